// Package ontology implements O: ingestion of the RDF/Turtle subset
// §6 names into canonical triples, plus the fixed vocabulary Σ
// recognizes. No general RDF/SPARQL library exists anywhere in the
// example corpus (checked every service's go.mod and the rest of the
// pack); this parser and the vocabulary below are hand-rolled against
// the accepted-syntax subset spec.md and the Rust reference material
// fix (see DESIGN.md for the standard-library justification).
package ontology

// Vocabulary prefixes recognized by Σ (spec §6).
const (
	PrefixYAWL = "yawl"
	PrefixTime = "time"
	PrefixICal = "ical"
	PrefixOrg  = "org"
	PrefixSKOS = "skos"
	PrefixProv = "prov"
	PrefixRDF  = "rdf"
	PrefixRDFS = "rdfs"
)

// Namespace IRIs, adapted from the Rust reference parser's vocabulary
// module (domain vocabulary, not code style — these IRIs are the YAWL/
// RDF standard the spec itself names).
var namespaces = map[string]string{
	PrefixYAWL: "http://yawlfoundation.org/yawlschema#",
	PrefixTime: "http://www.w3.org/2006/time#",
	PrefixICal: "http://www.w3.org/2002/12/cal/ical#",
	PrefixOrg:  "http://www.w3.org/ns/org#",
	PrefixSKOS: "http://www.w3.org/2004/02/skos/core#",
	PrefixProv: "http://www.w3.org/ns/prov#",
	PrefixRDF:  "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
	PrefixRDFS: "http://www.w3.org/2000/01/rdf-schema#",
}

// Predicate/class IRIs Σ gates against, expanded from the prefixed
// names used throughout the compiler and shape packages.
var (
	ClassTask      = expand(PrefixYAWL, "Task")
	ClassCondition = expand(PrefixYAWL, "Condition")
	ClassFlow      = expand(PrefixYAWL, "Flow")

	PredSplitType             = expand(PrefixYAWL, "splitType")
	PredJoinType              = expand(PrefixYAWL, "joinType")
	PredPatternID             = expand(PrefixYAWL, "patternId")
	PredHasTask               = expand(PrefixYAWL, "hasTask")
	PredHasCondition          = expand(PrefixYAWL, "hasCondition")
	PredHasInputCondition     = expand(PrefixYAWL, "hasInputCondition")
	PredHasOutputCondition    = expand(PrefixYAWL, "hasOutputCondition")
	PredHasOutgoingFlow       = expand(PrefixYAWL, "hasOutgoingFlow")
	PredHasIncomingFlow       = expand(PrefixYAWL, "hasIncomingFlow")
	PredHasStartCondition     = expand(PrefixYAWL, "hasStartCondition")
	PredHasEndCondition       = expand(PrefixYAWL, "hasEndCondition")
	PredCancelsRegion         = expand(PrefixYAWL, "cancelsRegion")
	PredFlowsFrom             = expand(PrefixYAWL, "flowsFrom")
	PredFlowsTo               = expand(PrefixYAWL, "flowsTo")
	PredPartialJoinThreshold  = expand(PrefixYAWL, "partialJoinThreshold")
	PredDiscriminatorK        = expand(PrefixYAWL, "discriminatorK")
	PredMIMin                 = expand(PrefixYAWL, "miMin")
	PredMIMax                 = expand(PrefixYAWL, "miMax")
	PredMICompletion          = expand(PrefixYAWL, "miCompletion")
	PredResettable            = expand(PrefixYAWL, "resettable")

	ClassInterval       = expand(PrefixTime, "Interval")
	PredHasDuration     = expand(PrefixTime, "hasDuration")
	PredNumericDuration = expand(PrefixTime, "numericDuration")
	PredUnitSecond      = expand(PrefixTime, "unitSecond")

	PredRRULE = expand(PrefixICal, "RRULE")

	ClassRole    = expand(PrefixOrg, "Role")
	PredHasRole  = expand(PrefixOrg, "hasRole")
	PredHasRegion = expand(PrefixYAWL, "hasRegion")

	PredConceptScheme = expand(PrefixSKOS, "conceptScheme")

	ClassActivity = expand(PrefixProv, "Activity")
	ClassAgent    = expand(PrefixProv, "Agent")

	PredRDFType = expand(PrefixRDF, "type")
	PredLabel   = expand(PrefixRDFS, "label")
)

func expand(prefix, local string) string {
	return namespaces[prefix] + local
}

// ResolvePrefix returns the namespace IRI for a known prefix.
func ResolvePrefix(prefix string) (string, bool) {
	ns, ok := namespaces[prefix]
	return ns, ok
}
