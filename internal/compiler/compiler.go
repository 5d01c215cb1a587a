// Package compiler implements μ: the pure, idempotent O → (A,
// certificate) pipeline (§4.2). All seven phases run offline, never
// on the executor's hot path. Grounded on spec §4.2's own phase list
// directly — no single teacher file implements a compiler pipeline,
// so each phase is built from the primitives internal/ontology,
// internal/shapes, internal/interner, internal/guard, and internal/cert
// already provide, composed the way those packages' own doc comments
// describe their intended callers using them.
package compiler

import (
	"fmt"

	"github.com/swarmguard/workflow-engine/internal/cert"
	"github.com/swarmguard/workflow-engine/internal/ir"
	"github.com/swarmguard/workflow-engine/internal/ontology"
	"github.com/swarmguard/workflow-engine/internal/patterns"
	"github.com/swarmguard/workflow-engine/internal/shapes"
)

// Source is one named Turtle-subset graph to canonicalize, matching
// ontology.Parse's (graphName, src) signature.
type Source struct {
	Name string
	Data []byte
}

// Result is phase 7's output: the compiled image plus the signed JWT
// the engine's loader checks on load_ir.
type Result struct {
	Image *ir.Image
	Token string
}

// Compile runs μ's full seven-phase pipeline over sources, signing the
// resulting certificate with signer. base, when non-nil, is the
// previously compiled ontology this call's sources are unioned onto —
// passing it implements the shard law μ(O⊔Δ) = μ(O)⊔μ(Δ) by reusing
// ontology.Union rather than re-parsing base's sources.
func Compile(sources []Source, base *ontology.Ontology, signer *cert.Signer) (*Result, error) {
	// Phase 1: Canonicalize.
	delta := &ontology.Ontology{}
	for _, src := range sources {
		graph, err := ontology.Parse(src.Name, src.Data)
		if err != nil {
			return nil, fmt.Errorf("compiler: canonicalize %s: %w", src.Name, err)
		}
		delta.Graphs = append(delta.Graphs, graph)
	}
	o := delta
	if base != nil {
		o = base.Union(delta)
	}

	// Phase 2: Gate Σ.
	if v := shapes.Gate(o); v != nil {
		return nil, &ShapeViolation{Shape: string(v.Shape), Node: v.Node, Msg: v.Msg}
	}

	// Phase 3: Extract.
	g := extract(o)
	order := sortedNodeIRIs(g)

	// Phase 4 + 5: Lower, Allocation plan.
	reg := patterns.NewRegistry()
	img, interned, err := lower(g, reg)
	if err != nil {
		return nil, err
	}
	img.SigmaHash = o.SigmaHash()

	frozen, err := interned.Freeze()
	if err != nil {
		// interner.Freeze exhausts its own retry budget internally and
		// only reports pass/fail; the compiler surfaces that as a
		// typed failure without fabricating a retry count it was
		// never given.
		return nil, &UnstableIntern{}
	}
	img.Strings = frozen.Strings()

	if err := lowerTimers(img, g, order); err != nil {
		return nil, fmt.Errorf("compiler: lower timers: %w", err)
	}

	// Phase 6: Guard compilation.
	if err := compileGuards(img, g, order); err != nil {
		return nil, err
	}

	// Phase 7: Certify.
	certificate, err := certify(img)
	if err != nil {
		return nil, err
	}
	img.Cert = *certificate

	token, err := signer.Sign(&img.Cert)
	if err != nil {
		return nil, fmt.Errorf("compiler: sign certificate: %w", err)
	}

	return &Result{Image: img, Token: token}, nil
}
