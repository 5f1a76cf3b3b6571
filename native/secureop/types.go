package secureop

import (
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"guardian/native/roles"
	"guardian/native/txrecord"
)

// WorkflowKind is the closed set of workflow shapes an operation type may be
// bound to. The shape is fixed when the operation type is registered and
// drives which entry points accept that operation.
type WorkflowKind uint8

const (
	// WorkflowTimeDelayOnly requires a request followed by a delayed
	// approval once the release time elapses; cancellation remains open to
	// an authorized role while the record is pending.
	WorkflowTimeDelayOnly WorkflowKind = iota
	// WorkflowMetaTxSinglePhase atomically creates and completes a record
	// from one signed request-and-approve message submitted by a
	// role-distinct executor.
	WorkflowMetaTxSinglePhase
	// WorkflowHybrid layers signed approval/cancellation on top of the
	// time-delay shape; whichever path commits first wins.
	WorkflowHybrid
	// WorkflowMetaTxTwoPhase splits request and approval into two signed
	// messages, each submitted separately by an executor.
	WorkflowMetaTxTwoPhase
)

func (w WorkflowKind) String() string {
	switch w {
	case WorkflowTimeDelayOnly:
		return "TIME_DELAY_ONLY"
	case WorkflowMetaTxSinglePhase:
		return "META_TX_SINGLE_PHASE"
	case WorkflowHybrid:
		return "HYBRID"
	case WorkflowMetaTxTwoPhase:
		return "META_TX_TWO_PHASE"
	default:
		return "UNKNOWN"
	}
}

// OperationID is the stable identifier of an operation type.
type OperationID [32]byte

// DeriveOperationID hashes the trimmed operation name into its identifier.
func DeriveOperationID(name string) OperationID {
	var id OperationID
	copy(id[:], ethcrypto.Keccak256([]byte(strings.TrimSpace(name))))
	return id
}

// RoleGrant couples a role with the actions it may exercise on the
// operation's selector. Applied when the operation type is registered.
type RoleGrant struct {
	Role    roles.RoleID
	Actions roles.ActionSet
}

// OperationDefinition describes one operation type: its workflow shape, the
// selector its entry points are gated on, and the role eligibility per
// action. Definitions are immutable after registration.
type OperationDefinition struct {
	Name     string
	ID       OperationID
	Workflow WorkflowKind
	Selector roles.Selector
	Grants   []RoleGrant
}

// Handler executes the target action of an authorized operation. A non-nil
// error marks the record FAILED; the returned bytes are stored as the result.
type Handler func(rec *txrecord.TxRecord) ([]byte, error)
