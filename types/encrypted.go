package types

import "fmt"

// EncryptedOutput is the result of finalizing an input batch: one handle per
// appended value, in insertion order, and a single proof covering them all.
type EncryptedOutput struct {
	Handles    []Handle `json:"handles"`
	InputProof HexBytes `json:"inputProof"`
}

// Args returns the positional contract call arguments for the batch: one
// bytes32 per handle followed by the proof bytes.
func (o *EncryptedOutput) Args() []any {
	args := make([]any, 0, len(o.Handles)+1)
	for _, h := range o.Handles {
		args = append(args, [32]byte(h))
	}
	return append(args, []byte(o.InputProof))
}

// Handle returns the i-th handle of the batch.
func (o *EncryptedOutput) Handle(i int) (Handle, error) {
	if i < 0 || i >= len(o.Handles) {
		return Handle{}, fmt.Errorf("handle index %d out of range [0,%d)", i, len(o.Handles))
	}
	return o.Handles[i], nil
}
