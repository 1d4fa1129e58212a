package coprocessor

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/vocdoni/fhevm-go/types"
)

// Op is a homomorphic operation supported by Evaluate.
type Op string

const (
	OpAdd Op = "add"
	OpSub Op = "sub"
	OpMul Op = "mul"
	OpDiv Op = "div"
	OpRem Op = "rem"
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpXor Op = "xor"
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpLt  Op = "lt"
	OpLe  Op = "le"
	OpGt  Op = "gt"
	OpGe  Op = "ge"
	OpMin Op = "min"
	OpMax Op = "max"
)

var (
	arithmeticOps = map[Op]bool{OpAdd: true, OpSub: true, OpMul: true, OpDiv: true, OpRem: true, OpMin: true, OpMax: true}
	bitwiseOps    = map[Op]bool{OpAnd: true, OpOr: true, OpXor: true}
	comparisonOps = map[Op]bool{OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true}
)

// ParseOp validates an operation name.
func ParseOp(s string) (Op, error) {
	op := Op(strings.ToLower(strings.TrimSpace(s)))
	if !arithmeticOps[op] && !bitwiseOps[op] && !comparisonOps[op] {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return op, nil
}

// ResultType returns the kind produced by applying op to operands of kind t,
// or an error if the kind does not support op. Comparisons yield ebool,
// booleans only support bitwise and equality operations and addresses only
// equality.
func (op Op) ResultType(t types.FheType) (types.FheType, error) {
	switch {
	case t == types.EAddress && (op == OpEq || op == OpNe):
		return types.EBool, nil
	case t == types.EAddress:
	case t == types.EBool && (bitwiseOps[op] || op == OpEq || op == OpNe):
		return types.EBool, nil
	case t == types.EBool:
	case comparisonOps[op]:
		return types.EBool, nil
	case arithmeticOps[op] || bitwiseOps[op]:
		return t, nil
	}
	return 0, fmt.Errorf("%w: %s does not support %s", types.ErrUnsupportedType, t, op)
}

// apply computes op over a and b interpreted as unsigned integers of kind
// t. Arithmetic wraps around the kind bit width. Division by zero yields the
// maximum value of the kind and the remainder by zero yields a.
func (op Op) apply(t types.FheType, a, b *uint256.Int) *uint256.Int {
	z := new(uint256.Int)
	switch op {
	case OpAdd:
		z.Add(a, b)
	case OpSub:
		z.Sub(a, b)
	case OpMul:
		z.Mul(a, b)
	case OpDiv:
		if b.IsZero() {
			return mask(t)
		}
		z.Div(a, b)
	case OpRem:
		if b.IsZero() {
			return z.Set(a)
		}
		z.Mod(a, b)
	case OpAnd:
		z.And(a, b)
	case OpOr:
		z.Or(a, b)
	case OpXor:
		z.Xor(a, b)
	case OpMin:
		if a.Lt(b) {
			return z.Set(a)
		}
		return z.Set(b)
	case OpMax:
		if a.Gt(b) {
			return z.Set(a)
		}
		return z.Set(b)
	case OpEq:
		return boolInt(a.Eq(b))
	case OpNe:
		return boolInt(!a.Eq(b))
	case OpLt:
		return boolInt(a.Lt(b))
	case OpLe:
		return boolInt(!a.Gt(b))
	case OpGt:
		return boolInt(a.Gt(b))
	case OpGe:
		return boolInt(!a.Lt(b))
	}
	return z.And(z, mask(t))
}

// mask returns 2^bits-1 for the kind.
func mask(t types.FheType) *uint256.Int {
	m := new(uint256.Int).Lsh(uint256.NewInt(1), uint(t.Bits()))
	return m.SubUint64(m, 1)
}

func boolInt(v bool) *uint256.Int {
	if v {
		return uint256.NewInt(1)
	}
	return uint256.NewInt(0)
}

// toBytes encodes x as the fixed-size payload of kind t.
func toBytes(t types.FheType, x *uint256.Int) []byte {
	full := x.Bytes32()
	return append([]byte(nil), full[32-t.Size():]...)
}
