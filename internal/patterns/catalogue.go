// Package patterns implements the dispatcher's 43-entry pattern
// table: one named control-flow pattern per YAWL catalogue id, each
// with a short phase list the executor runs in order. Handlers are
// written against the Context interface rather than any concrete
// executor type so this package has no dependency on internal/executor
// — the executor imports patterns, not the other way around.
package patterns

// ID names one of the 43 YAWL workflow control-flow patterns the
// pattern table's 256 slots accept (Open Question #1: ids 44-255 are
// reserved and rejected by the loader).
type ID uint16

const (
	Sequence                      ID = 1
	ParallelSplit                 ID = 2
	Synchronization                ID = 3
	ExclusiveChoice                ID = 4
	SimpleMerge                    ID = 5
	MultiChoice                    ID = 6
	StructuredSynchronizingMerge   ID = 7
	MultiMerge                     ID = 8
	StructuredDiscriminator        ID = 9
	ArbitraryCycles                ID = 10
	ImplicitTermination            ID = 11
	MultipleInstancesNoSync        ID = 12
	MultipleInstancesDesignTime    ID = 13
	MultipleInstancesRuntime       ID = 14
	MultipleInstancesNoPriorKnowl  ID = 15
	DeferredChoice                 ID = 16
	InterleavedParallelRouting     ID = 17
	Milestone                      ID = 18
	CancelTask                     ID = 19
	CancelCase                     ID = 20
	CancelRegion                   ID = 21
	CancelMultipleInstanceActivity ID = 22
	CompleteMultipleInstanceActivity ID = 23
	BlockingDiscriminator           ID = 24
	CancellingDiscriminator         ID = 25
	StructuredPartialJoin           ID = 26
	BlockingPartialJoin             ID = 27
	CancellingPartialJoin           ID = 28
	GeneralizedANDJoin              ID = 29
	OneShotTrigger                  ID = 30
	RecurringTrigger                ID = 31
	PersistentTrigger               ID = 32
	TransientTrigger                ID = 33
	StaticPartialJoinForMI          ID = 34
	CancellingPartialJoinForMI      ID = 35
	DynamicPartialJoinForMI         ID = 36
	LocalSynchronizingMerge         ID = 37
	GeneralSynchronizingMerge       ID = 38
	ThreadMerge                     ID = 39
	ImplicitTerminationVariant      ID = 40
	ExplicitTermination             ID = 41
	MultipleTermination             ID = 42
	CancellingTermination           ID = 43
)

// Name is the canonical display name of each used pattern id; a
// missing entry means the table slot is reserved but not yet bound to
// a concrete handler.
var Name = map[ID]string{
	Sequence:                        "Sequence",
	ParallelSplit:                   "Parallel Split",
	Synchronization:                 "Synchronization",
	ExclusiveChoice:                 "Exclusive Choice",
	SimpleMerge:                     "Simple Merge",
	MultiChoice:                     "Multi-Choice",
	StructuredSynchronizingMerge:    "Structured Synchronizing Merge",
	MultiMerge:                      "Multi-Merge",
	StructuredDiscriminator:         "Structured Discriminator",
	ArbitraryCycles:                 "Arbitrary Cycles",
	ImplicitTermination:             "Implicit Termination",
	MultipleInstancesNoSync:         "Multiple Instances Without Synchronization",
	MultipleInstancesDesignTime:     "Multiple Instances With a Priori Design-Time Knowledge",
	MultipleInstancesRuntime:        "Multiple Instances With a Priori Runtime Knowledge",
	MultipleInstancesNoPriorKnowl:   "Multiple Instances Without a Priori Runtime Knowledge",
	DeferredChoice:                  "Deferred Choice",
	InterleavedParallelRouting:      "Interleaved Parallel Routing",
	Milestone:                       "Milestone",
	CancelTask:                      "Cancel Task",
	CancelCase:                      "Cancel Case",
	CancelRegion:                    "Cancel Region",
	CancelMultipleInstanceActivity:  "Cancel Multiple Instance Activity",
	CompleteMultipleInstanceActivity: "Complete Multiple Instance Activity",
	BlockingDiscriminator:           "Blocking Discriminator",
	CancellingDiscriminator:         "Cancelling Discriminator",
	StructuredPartialJoin:           "Structured Partial Join",
	BlockingPartialJoin:             "Blocking Partial Join",
	CancellingPartialJoin:           "Cancelling Partial Join",
	GeneralizedANDJoin:              "Generalized AND-Join",
	OneShotTrigger:                  "One-Shot Trigger",
	RecurringTrigger:                "Recurring Trigger",
	PersistentTrigger:               "Persistent Trigger",
	TransientTrigger:                "Transient Trigger",
	StaticPartialJoinForMI:          "Static Partial Join for Multiple Instances",
	CancellingPartialJoinForMI:      "Cancelling Partial Join for Multiple Instances",
	DynamicPartialJoinForMI:         "Dynamic Partial Join for Multiple Instances",
	LocalSynchronizingMerge:         "Local Synchronizing Merge",
	GeneralSynchronizingMerge:       "General Synchronizing Merge",
	ThreadMerge:                     "Thread Merge",
	ImplicitTerminationVariant:      "Implicit Termination (Variant)",
	ExplicitTermination:             "Explicit Termination",
	MultipleTermination:             "Multiple Termination",
	CancellingTermination:           "Cancelling Termination",
}

// All43 is every pattern id the table recognizes, in ascending order.
func All43() []ID {
	ids := make([]ID, 0, 43)
	for i := ID(1); i <= 43; i++ {
		ids = append(ids, i)
	}
	return ids
}
