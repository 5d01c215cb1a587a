// Package guard compiles the small boolean expression language guard
// clauses are written in down to the branchless stack bytecode
// internal/ir.Opcode names, and evaluates that bytecode against an
// observation buffer on the hot path. The instruction set and byte
// encoding are lifted verbatim from the original compiler's
// compile_expr (compile_recursive): PushConst carries an 8-byte
// little-endian operand, ReadObs a 1-byte field index, LoadSigma a
// 2-byte field offset; Compare/And/Or carry no operand and instead
// pop their two operands off the evaluation stack.
package guard

import (
	"encoding/binary"
	"fmt"

	"github.com/swarmguard/workflow-engine/internal/ir"
)

// MaxGuardTicks is the static per-step guard-evaluation budget (§4.5:
// "≤4 ticks for guard evaluation" within the τ=8 hot-path contract).
const MaxGuardTicks = 4

// CompareOp names one of the five comparison opcodes.
type CompareOp uint8

const (
	CmpEQ CompareOp = iota
	CmpLT
	CmpLE
	CmpGT
	CmpGE
)

func (op CompareOp) opcode() ir.Opcode {
	switch op {
	case CmpEQ:
		return ir.OpCompareEQ
	case CmpLT:
		return ir.OpCompareLT
	case CmpLE:
		return ir.OpCompareLE
	case CmpGT:
		return ir.OpCompareGT
	case CmpGE:
		return ir.OpCompareGE
	default:
		return 0
	}
}

// Expr is a guard expression node. The concrete types below are the
// only legal forms; there is no escape hatch for arbitrary code.
type Expr interface{ isExpr() }

// Const pushes a literal u64 value.
type Const struct{ Value uint64 }

// ReadObs pushes the value of observation slot Field (0-15, matching
// the executor's fixed 16-slot observation array).
type ReadObs struct{ Field uint8 }

// LoadSigma pushes the value at offset Offset into the certified
// per-image sigma table (static context values baked in at compile
// time, e.g. role capability masks or business-calendar constants).
type LoadSigma struct{ Offset uint16 }

// Compare pops Right then Left and pushes the boolean result of
// Left `Op` Right.
type Compare struct {
	Op          CompareOp
	Left, Right Expr
}

// And pops two booleans and pushes their branchless conjunction.
type And struct{ Left, Right Expr }

// Or pops two booleans and pushes their branchless disjunction.
type Or struct{ Left, Right Expr }

func (Const) isExpr()     {}
func (ReadObs) isExpr()   {}
func (LoadSigma) isExpr() {}
func (Compare) isExpr()   {}
func (And) isExpr()       {}
func (Or) isExpr()        {}

// OverBudgetError reports a guard expression whose static instruction
// count exceeds MaxGuardTicks; the compiler must reject the owning
// pattern rather than let it reach the executor (spec §7:
// GuardOverBudget is a compile-time error).
type OverBudgetError struct {
	Ticks int
}

func (e *OverBudgetError) Error() string {
	return fmt.Sprintf("guard: %d instructions exceeds budget of %d ticks", e.Ticks, MaxGuardTicks)
}

// Compile lowers expr into a GuardProgram. One bytecode instruction
// costs one tick; the static count is computed before any case ever
// runs, satisfying the "verified once and never re-measured" posture
// the tick budget model requires.
func Compile(id uint32, expr Expr) (ir.GuardProgram, error) {
	code, ticks, err := compileRecursive(expr, nil, 0)
	if err != nil {
		return ir.GuardProgram{}, err
	}
	if ticks > MaxGuardTicks {
		return ir.GuardProgram{}, &OverBudgetError{Ticks: ticks}
	}
	return ir.GuardProgram{ID: id, Code: code, Ticks: uint8(ticks)}, nil
}

func compileRecursive(expr Expr, code []byte, ticks int) ([]byte, int, error) {
	switch e := expr.(type) {
	case Const:
		code = append(code, byte(ir.OpPushConst))
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], e.Value)
		code = append(code, buf[:]...)
		return code, ticks + 1, nil

	case ReadObs:
		if e.Field > 15 {
			return nil, 0, fmt.Errorf("guard: observation field %d out of range [0,15]", e.Field)
		}
		code = append(code, byte(ir.OpReadObs), e.Field)
		return code, ticks + 1, nil

	case LoadSigma:
		code = append(code, byte(ir.OpLoadSigma))
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], e.Offset)
		code = append(code, buf[:]...)
		return code, ticks + 1, nil

	case Compare:
		var err error
		code, ticks, err = compileRecursive(e.Left, code, ticks)
		if err != nil {
			return nil, 0, err
		}
		code, ticks, err = compileRecursive(e.Right, code, ticks)
		if err != nil {
			return nil, 0, err
		}
		code = append(code, byte(e.Op.opcode()))
		return code, ticks + 1, nil

	case And:
		var err error
		code, ticks, err = compileRecursive(e.Left, code, ticks)
		if err != nil {
			return nil, 0, err
		}
		code, ticks, err = compileRecursive(e.Right, code, ticks)
		if err != nil {
			return nil, 0, err
		}
		code = append(code, byte(ir.OpAnd))
		return code, ticks + 1, nil

	case Or:
		var err error
		code, ticks, err = compileRecursive(e.Left, code, ticks)
		if err != nil {
			return nil, 0, err
		}
		code, ticks, err = compileRecursive(e.Right, code, ticks)
		if err != nil {
			return nil, 0, err
		}
		code = append(code, byte(ir.OpOr))
		return code, ticks + 1, nil

	default:
		return nil, 0, fmt.Errorf("guard: unsupported expression %T", expr)
	}
}
