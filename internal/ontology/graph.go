package ontology

import (
	"bytes"
	"crypto/sha256"
	"sort"
)

// Triple is one (subject, predicate, object) fact. Object is always
// the fully-expanded IRI or literal lexical form; ObjectIsLiteral
// distinguishes a literal object from a resource reference.
type Triple struct {
	Subject         string
	Predicate       string
	Object          string
	ObjectIsLiteral bool
	Datatype        string // optional ^^datatype IRI, empty for plain/resource
}

// Graph is one named RDF graph: a set of triples plus the graph's own
// IRI (content-addressed separately per snapshot, not per graph).
type Graph struct {
	Name    string
	Triples []Triple
}

// Ontology is a set of named graphs — a snapshot O. Immutable once
// built; evolution is by snapshot succession (a new Ontology value),
// never in-place mutation.
type Ontology struct {
	Graphs []*Graph
}

// Canonical returns the triples of every graph in the ontology sorted
// by (graph name, subject, predicate, object), the deterministic order
// the compiler hashes and lowers from. Sorting, not parse order, is
// what makes hash(A) stable across byte-identical-but-differently-
// ordered Turtle inputs.
func (o *Ontology) Canonical() []Triple {
	type keyed struct {
		graph string
		t     Triple
	}
	var all []keyed
	for _, g := range o.Graphs {
		for _, t := range g.Triples {
			all = append(all, keyed{graph: g.Name, t: t})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.graph != b.graph {
			return a.graph < b.graph
		}
		if a.t.Subject != b.t.Subject {
			return a.t.Subject < b.t.Subject
		}
		if a.t.Predicate != b.t.Predicate {
			return a.t.Predicate < b.t.Predicate
		}
		return a.t.Object < b.t.Object
	})
	out := make([]Triple, len(all))
	for i, k := range all {
		out[i] = k.t
	}
	return out
}

// SigmaHash computes the content hash of the ontology's canonical
// serialization — O "is content-addressed by a cryptographic hash of
// a canonical serialization" (spec §3). Two ontologies with the same
// triples in any parse order hash identically.
func (o *Ontology) SigmaHash() [32]byte {
	var buf bytes.Buffer
	for _, g := range o.Graphs {
		buf.WriteString(g.Name)
		buf.WriteByte(0)
	}
	buf.WriteByte(0xff)
	for _, t := range o.Canonical() {
		buf.WriteString(t.Subject)
		buf.WriteByte(0)
		buf.WriteString(t.Predicate)
		buf.WriteByte(0)
		buf.WriteString(t.Object)
		buf.WriteByte(0)
		if t.ObjectIsLiteral {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		buf.WriteString(t.Datatype)
		buf.WriteByte(0xfe)
	}
	return sha256.Sum256(buf.Bytes())
}

// Union returns a new Ontology containing the graphs of both o and
// delta, keyed by graph name — grounding the compiler's shard law: as
// long as delta introduces only graphs absent from o (no rewrite of
// an existing graph's triples), Union is simply a disjoint merge of
// graph lists, and the IR each side lowers to stays keyed by graph
// source hash so the regions never need to be reconciled at merge
// time (see internal/compiler).
func (o *Ontology) Union(delta *Ontology) *Ontology {
	out := &Ontology{Graphs: make([]*Graph, 0, len(o.Graphs)+len(delta.Graphs))}
	seen := make(map[string]bool)
	for _, g := range o.Graphs {
		out.Graphs = append(out.Graphs, g)
		seen[g.Name] = true
	}
	for _, g := range delta.Graphs {
		if seen[g.Name] {
			continue
		}
		out.Graphs = append(out.Graphs, g)
		seen[g.Name] = true
	}
	return out
}
