// Package ir defines A: the cache-aligned, read-mostly binary image
// the compiler μ produces and the executor E runs against. Types here
// are the in-memory working representation; binary.go hand-rolls the
// on-disk layout the same way the blockchain store's block codec does
// (explicit byte offsets, length-prefixed fields, little-endian
// integers) rather than reaching for encoding/gob or a schema
// compiler — no binary-framing library appears anywhere in the
// example pack, and the spec fixes an exact byte layout (§6) that a
// generic codec would not reproduce, so this is hand-rolled by
// necessity (see DESIGN.md).
package ir

// Kind distinguishes a Task node from a Condition node.
type Kind uint8

const (
	KindTask Kind = iota
	KindCondition
)

// SplitJoin enumerates the four legal split/join types Σ allows.
type SplitJoin uint8

const (
	SJAnd SplitJoin = iota
	SJXor
	SJOr
	SJDiscriminator
)

func (s SplitJoin) String() string {
	switch s {
	case SJAnd:
		return "AND"
	case SJXor:
		return "XOR"
	case SJOr:
		return "OR"
	case SJDiscriminator:
		return "Discriminator"
	default:
		return "Unknown"
	}
}

// ParseSplitJoin maps the Turtle literal form to the enum.
func ParseSplitJoin(s string) (SplitJoin, bool) {
	switch s {
	case "AND":
		return SJAnd, true
	case "XOR":
		return SJXor, true
	case "OR":
		return SJOr, true
	case "Discriminator":
		return SJDiscriminator, true
	default:
		return 0, false
	}
}

// Node flag bits packed into Node.Flags.
const (
	FlagResettable uint32 = 1 << iota // discriminator/partial-join may re-fire after reset (Open Question #2)
	FlagCancelRegionRoot
	FlagLoopBack
	FlagFourEyes
	FlagStartNode // yawl:hasStartCondition names this node as a case's initial token placement
)

// MICompletionMode selects how a multiple-instances node's join is
// satisfied: once every spawned instance completes, or once at least
// PartialJoinThreshold of them have (P12-P15).
type MICompletionMode uint8

const (
	MICompletionAll MICompletionMode = iota
	MICompletionAtLeastK
)

// Node is one Task or Condition record of the IR's node array.
type Node struct {
	ID                   uint32
	Kind                 Kind
	Split                SplitJoin
	Join                 SplitJoin
	PatternID            uint16
	GuardOffset          uint32 // index into Guards
	GuardLen             uint32
	TimerIndex           int32 // index into Timers, -1 if none
	InEdgesOffset        uint32 // index into Pred
	InEdgesLen           uint32
	OutEdgesOffset       uint32 // index into Succ
	OutEdgesLen          uint32
	PartialJoinThreshold uint32 // also doubles as a discriminator's k
	RoleCaps             uint64 // bitmask over role/capability ids
	PolicyID             uint32
	Flags                uint32
	MIMin                uint32 // P12-P15: minimum spawned instances
	MIMax                uint32 // P12-P15: maximum spawned instances
	MICompletion         MICompletionMode
}

// EdgeArrays holds the dense adjacency used by every node's in/out
// edge spans.
type EdgeArrays struct {
	Pred []uint32
	Succ []uint32
}

// PatternTableSize is the fixed slot count of the pattern dispatch
// table (§3: "256 entries, indexed by pattern_id").
const PatternTableSize = 256

// MaxPhases bounds a pattern's phase list (§3 invariant I2: "every
// pattern's phase count ≤ 8").
const MaxPhases = 8

// PatternEntry is one slot of the 256-entry pattern table: which
// phase handlers to run, their static tick costs, and the guard ids
// gating each phase.
type PatternEntry struct {
	Used           bool
	Name           string
	HandlerOffsets [MaxPhases]uint16
	PhaseTicks     [MaxPhases]uint8
	GuardIDs       [MaxPhases]uint32
	MaxPhases      uint8
}

// Opcode is one of the ≤5 branchless guard bytecode instructions.
type Opcode uint8

const (
	OpPushConst Opcode = 0x10
	OpReadObs   Opcode = 0x20
	OpLoadSigma Opcode = 0x21
	OpCompareEQ Opcode = 0x30
	OpCompareLT Opcode = 0x31
	OpCompareLE Opcode = 0x32
	OpCompareGT Opcode = 0x33
	OpCompareGE Opcode = 0x34
	OpAnd       Opcode = 0x40
	OpOr        Opcode = 0x41
)

// GuardProgram is one compiled guard: a branchless stack program plus
// its static tick cost, computed once at compile time and never
// re-derived on the hot path.
type GuardProgram struct {
	ID    uint32
	Code  []byte // opcode + operand bytes, see internal/guard
	Ticks uint8
}

// TimerKind distinguishes a one-shot trigger from a recurring one.
type TimerKind uint8

const (
	TimerOneShot TimerKind = iota
	TimerRecurring
)

// CatchupPolicy selects how a recurring timer behaves across a
// crash+resume gap.
type CatchupPolicy uint8

const (
	PolicyCatchUp CatchupPolicy = iota
	PolicyCoalesce
)

// RRuleNorm mirrors ontology.RRuleNorm in IR-native form (no
// dependency on the ontology package from the hot-path side).
type RRuleNorm struct {
	Freq       string
	Interval   int32
	ByHour     []int32
	ByMinute   []int32
	BySecond   []int32
	ByDay      []string
	ByMonth    []int32
	ByMonthDay []int32
}

// TimerDescriptor is the compiled form of a timer scope declared on a
// node.
type TimerDescriptor struct {
	Kind             TimerKind
	CivilAnchorNs    int64 // wall-clock ns since Unix epoch, 0 if unanchored
	MonotonicOffsetNs int64
	RRule            *RRuleNorm // nil for one-shot
	CatchUp          bool
	Policy           CatchupPolicy
}

// Certificate is the timing/ISA/invariant proof bundle §4.2 phase 7
// produces and §4.3's loader verifies.
type Certificate struct {
	SigmaHash     [32]byte
	ISAOpcodeSet  []Opcode
	PerTaskTicks  map[uint32]uint8
	PerPatternTicks map[uint16]uint8
	PerGuardTicks map[uint32]uint8
	InvariantIDs  []string
	Sig           [64]byte
}

// Image is A: the full compiled artifact.
type Image struct {
	SigmaHash [32]byte
	Strings   []string // frozen interner, id-ordered
	Nodes     []Node
	Edges     EdgeArrays
	Patterns  [PatternTableSize]PatternEntry
	Guards    []GuardProgram
	Timers    []TimerDescriptor
	Cert      Certificate
}

// NodeByID returns the node with the given id, or false.
func (img *Image) NodeByID(id uint32) (*Node, bool) {
	for i := range img.Nodes {
		if img.Nodes[i].ID == id {
			return &img.Nodes[i], true
		}
	}
	return nil, false
}

// InEdges returns the predecessor ids feeding n.
func (img *Image) InEdges(n *Node) []uint32 {
	return img.Edges.Pred[n.InEdgesOffset : n.InEdgesOffset+n.InEdgesLen]
}

// OutEdges returns the successor ids n feeds.
func (img *Image) OutEdges(n *Node) []uint32 {
	return img.Edges.Succ[n.OutEdgesOffset : n.OutEdgesOffset+n.OutEdgesLen]
}

// GuardByID returns the compiled guard program at id, or false.
func (img *Image) GuardByID(id uint32) (*GuardProgram, bool) {
	for i := range img.Guards {
		if img.Guards[i].ID == id {
			return &img.Guards[i], true
		}
	}
	return nil, false
}
