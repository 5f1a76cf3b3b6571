package txrecord

import (
	"math/big"
)

// TxStatus represents the lifecycle state of an operation request. Records are
// created Pending and move exactly once to a terminal status.
type TxStatus uint8

const (
	StatusUndefined TxStatus = iota
	StatusPending
	StatusCancelled
	StatusCompleted
	StatusFailed
)

// Terminal reports whether the status admits no further transition.
func (s TxStatus) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

func (s TxStatus) String() string {
	switch s {
	case StatusUndefined:
		return "UNDEFINED"
	case StatusPending:
		return "PENDING"
	case StatusCancelled:
		return "CANCELLED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ExecutionType describes how the target action attached to a record is
// dispatched once the workflow authorizes it.
type ExecutionType uint8

const (
	ExecutionNone ExecutionType = iota
	ExecutionStandard
	ExecutionRaw
)

func (e ExecutionType) String() string {
	switch e {
	case ExecutionNone:
		return "NONE"
	case ExecutionStandard:
		return "STANDARD"
	case ExecutionRaw:
		return "RAW"
	default:
		return "UNKNOWN"
	}
}

// TxParams carries the immutable request parameters of an operation.
type TxParams struct {
	Requester        [20]byte
	Target           [20]byte
	Value            *big.Int
	GasLimit         uint64
	OperationType    [32]byte
	ExecutionType    ExecutionType
	ExecutionOptions []byte
}

// TxRecord is one entry in the operation ledger. ReleaseTime is the Unix
// timestamp before which delayed approval must fail.
type TxRecord struct {
	TxID        uint64
	Status      TxStatus
	ReleaseTime int64
	Params      TxParams
	Result      []byte
	Payment     *big.Int
}

// Clone returns a deep copy so callers can mutate freely without touching the
// stored instance.
func (r *TxRecord) Clone() *TxRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Params.Value = cloneBigInt(r.Params.Value)
	clone.Params.ExecutionOptions = append([]byte(nil), r.Params.ExecutionOptions...)
	clone.Result = append([]byte(nil), r.Result...)
	if r.Payment != nil {
		clone.Payment = new(big.Int).Set(r.Payment)
	}
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
