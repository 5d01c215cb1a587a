package cert

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/swarmguard/workflow-engine/internal/ir"
)

// ErrInvalidCert is returned when the certificate's content hash,
// signature, or timing proof does not check out — the IR is refused
// outright, never partially loaded (spec §4.3, §7).
var ErrInvalidCert = errors.New("cert: invalid certificate")

// ErrUnsupportedISA is returned when the certificate's opcode set is
// not a subset of the running engine's instruction set, its
// invariant ids are not a subset of the engine's invariant registry,
// or an image node uses a reserved pattern id (44-255).
var ErrUnsupportedISA = errors.New("cert: unsupported ISA or invariant set")

// Loader verifies a certificate against the running engine's
// capabilities before an image is accepted into the store.
type Loader struct {
	EnginePub        ed25519.PublicKey
	EngineISA        map[ir.Opcode]bool
	EngineInvariants map[string]bool
	TickBudget       uint8 // τ
}

// NewLoader builds a Loader bound to the engine's fixed instruction
// set and invariant registry and its τ tick budget.
func NewLoader(pub ed25519.PublicKey, isa []ir.Opcode, invariants []string, tickBudget uint8) *Loader {
	isaSet := make(map[ir.Opcode]bool, len(isa))
	for _, op := range isa {
		isaSet[op] = true
	}
	invSet := make(map[string]bool, len(invariants))
	for _, id := range invariants {
		invSet[id] = true
	}
	return &Loader{EnginePub: pub, EngineISA: isaSet, EngineInvariants: invSet, TickBudget: tickBudget}
}

// Verify runs the ordered check sequence spec §4.3 requires before an
// image may be loaded: content hash, then signature, then timing
// proof under τ, then opcode-set subset, then invariant-id subset,
// then every node's pattern id within the 43-entry catalogue (ids
// 44-255 are reserved). The first failing check short-circuits the
// rest.
func (l *Loader) Verify(img *ir.Image, token string) error {
	c := &img.Cert

	if hex.EncodeToString(c.SigmaHash[:]) != hex.EncodeToString(img.SigmaHash[:]) {
		return fmt.Errorf("%w: certificate sigma_hash does not match image sigma_hash", ErrInvalidCert)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return l.EnginePub, nil
	})
	if err != nil || !parsed.Valid {
		return fmt.Errorf("%w: signature verification failed: %v", ErrInvalidCert, err)
	}
	if claims.SigmaHash != hex.EncodeToString(img.SigmaHash[:]) {
		return fmt.Errorf("%w: token sigma_hash does not match image", ErrInvalidCert)
	}

	if err := l.verifyTimingProof(img); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCert, err)
	}

	for _, op := range c.ISAOpcodeSet {
		if !l.EngineISA[op] {
			return fmt.Errorf("%w: opcode 0x%02x not in engine ISA", ErrUnsupportedISA, byte(op))
		}
	}

	for _, id := range c.InvariantIDs {
		if !l.EngineInvariants[id] {
			return fmt.Errorf("%w: invariant %q not in engine registry", ErrUnsupportedISA, id)
		}
	}

	for _, n := range img.Nodes {
		if n.PatternID > 43 {
			return fmt.Errorf("%w: node %d uses reserved pattern id %d", ErrUnsupportedISA, n.ID, n.PatternID)
		}
	}

	return nil
}

// verifyTimingProof requires every node to have a per-task entry in
// the certificate, then recomputes each node's worst-case step charge
// from the certificate's per-guard/per-pattern tables and checks it
// never exceeds τ, matching the executor's 5-step hot-path budget
// (§4.5): 1 setup, 1 pattern dispatch, the guard ticks, the pattern's
// phase ticks, and 1 output+receipt.
func (l *Loader) verifyTimingProof(img *ir.Image) error {
	for _, n := range img.Nodes {
		if _, ok := img.Cert.PerTaskTicks[n.ID]; !ok {
			return fmt.Errorf("node %d missing from certificate's per-task tick table", n.ID)
		}
		patternTicks := img.Cert.PerPatternTicks[n.PatternID]
		var guardTicks uint16
		for gi := uint32(0); gi < n.GuardLen; gi++ {
			g := img.Guards[n.GuardOffset+gi]
			guardTicks += uint16(img.Cert.PerGuardTicks[g.ID])
		}
		total := 3 + uint16(patternTicks) + guardTicks // setup + dispatch + output/receipt
		if total > uint16(l.TickBudget) {
			return fmt.Errorf("node %d worst-case ticks %d exceeds budget %d", n.ID, total, l.TickBudget)
		}
	}
	return nil
}
