package secureop

import (
	"encoding/binary"
	"fmt"
	"time"

	"guardian/native/roles"
	"guardian/native/txrecord"
)

// Built-in operation type names.
const (
	OpOwnershipTransfer = "OWNERSHIP_TRANSFER"
	OpBroadcasterUpdate = "BROADCASTER_UPDATE"
	OpRecoveryUpdate    = "RECOVERY_UPDATE"
	OpTimelockUpdate    = "TIMELOCK_UPDATE"
)

// Protected role names established at initialization.
const (
	RoleOwner       = "OWNER_ROLE"
	RoleBroadcaster = "BROADCASTER_ROLE"
	RoleRecovery    = "RECOVERY_ROLE"
)

var (
	selOwnershipTransfer = roles.SelectorFromSignature("transferOwnership(address)")
	selBroadcasterUpdate = roles.SelectorFromSignature("updateBroadcaster(address)")
	selRecoveryUpdate    = roles.SelectorFromSignature("updateRecovery(address)")
	selTimelockUpdate    = roles.SelectorFromSignature("updateTimelockPeriod(uint64)")
)

// Initialize establishes the protected owner, broadcaster, and recovery
// roles, installs the built-in operation types, and arms the entry points.
// It can run exactly once per engine instance.
//
// The broadcaster executes signed messages on behalf of the owner, so the
// three identities must be pairwise distinct to keep role separation
// meaningful.
func (e *Engine) Initialize(owner, broadcaster, recovery [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return ErrAlreadyInitialized
	}
	zero := [20]byte{}
	if owner == zero || broadcaster == zero || recovery == zero {
		return ErrZeroTarget
	}
	if owner == broadcaster || owner == recovery || broadcaster == recovery {
		return fmt.Errorf("%w: initial role holders must be distinct", ErrRoleSeparation)
	}

	ownerGrants := []roles.PermissionGrant{
		{Selector: selOwnershipTransfer, Actions: roles.NewActionSet(
			roles.ActionExecuteTimeDelayApprove,
			roles.ActionSignMetaApprove,
			roles.ActionSignMetaCancel,
		)},
		{Selector: selBroadcasterUpdate, Actions: roles.NewActionSet(
			roles.ActionExecuteTimeDelayRequest,
			roles.ActionExecuteTimeDelayApprove,
			roles.ActionExecuteTimeDelayCancel,
			roles.ActionSignMetaApprove,
			roles.ActionSignMetaCancel,
		)},
		{Selector: selRecoveryUpdate, Actions: roles.NewActionSet(
			roles.ActionSignMetaRequestAndApprove,
		)},
		{Selector: selTimelockUpdate, Actions: roles.NewActionSet(
			roles.ActionSignMetaRequestAndApprove,
		)},
	}
	broadcasterGrants := []roles.PermissionGrant{
		{Selector: selOwnershipTransfer, Actions: roles.NewActionSet(
			roles.ActionExecuteMetaApprove,
			roles.ActionExecuteMetaCancel,
		)},
		{Selector: selBroadcasterUpdate, Actions: roles.NewActionSet(
			roles.ActionExecuteMetaApprove,
			roles.ActionExecuteMetaCancel,
		)},
		{Selector: selRecoveryUpdate, Actions: roles.NewActionSet(
			roles.ActionExecuteMetaRequestAndApprove,
		)},
		{Selector: selTimelockUpdate, Actions: roles.NewActionSet(
			roles.ActionExecuteMetaRequestAndApprove,
		)},
	}
	recoveryGrants := []roles.PermissionGrant{
		{Selector: selOwnershipTransfer, Actions: roles.NewActionSet(
			roles.ActionExecuteTimeDelayRequest,
			roles.ActionExecuteTimeDelayCancel,
		)},
	}

	ownerRole, err := e.roles.CreateProtectedRole(RoleOwner, 1, ownerGrants, owner)
	if err != nil {
		return err
	}
	broadcasterRole, err := e.roles.CreateProtectedRole(RoleBroadcaster, 1, broadcasterGrants, broadcaster)
	if err != nil {
		return err
	}
	recoveryRole, err := e.roles.CreateProtectedRole(RoleRecovery, 1, recoveryGrants, recovery)
	if err != nil {
		return err
	}

	builtins := []struct {
		def     OperationDefinition
		handler Handler
	}{
		{OperationDefinition{Name: OpOwnershipTransfer, Workflow: WorkflowHybrid, Selector: selOwnershipTransfer}, e.applyOwnershipTransfer},
		{OperationDefinition{Name: OpBroadcasterUpdate, Workflow: WorkflowHybrid, Selector: selBroadcasterUpdate}, e.applyBroadcasterUpdate},
		{OperationDefinition{Name: OpRecoveryUpdate, Workflow: WorkflowMetaTxSinglePhase, Selector: selRecoveryUpdate}, e.applyRecoveryUpdate},
		{OperationDefinition{Name: OpTimelockUpdate, Workflow: WorkflowMetaTxSinglePhase, Selector: selTimelockUpdate}, e.applyTimelockUpdate},
	}
	for _, builtin := range builtins {
		if _, err := e.registerOperation(builtin.def, builtin.handler); err != nil {
			return err
		}
	}

	e.owner = owner
	e.broadcaster = broadcaster
	e.recovery = recovery
	e.ownerRole = ownerRole
	e.broadcasterRole = broadcasterRole
	e.recoveryRole = recoveryRole
	e.initialized = true
	return nil
}

func (e *Engine) applyOwnershipTransfer(rec *txrecord.TxRecord) ([]byte, error) {
	newOwner := rec.Params.Target
	if newOwner == ([20]byte{}) {
		return nil, ErrZeroTarget
	}
	if err := e.roles.Rotate(e.ownerRole, e.owner, newOwner); err != nil {
		return nil, err
	}
	e.owner = newOwner
	return newOwner[:], nil
}

func (e *Engine) applyBroadcasterUpdate(rec *txrecord.TxRecord) ([]byte, error) {
	next := rec.Params.Target
	if next == ([20]byte{}) {
		return nil, ErrZeroTarget
	}
	if err := e.roles.Rotate(e.broadcasterRole, e.broadcaster, next); err != nil {
		return nil, err
	}
	e.broadcaster = next
	return next[:], nil
}

func (e *Engine) applyRecoveryUpdate(rec *txrecord.TxRecord) ([]byte, error) {
	next := rec.Params.Target
	if next == ([20]byte{}) {
		return nil, ErrZeroTarget
	}
	if err := e.roles.Rotate(e.recoveryRole, e.recovery, next); err != nil {
		return nil, err
	}
	e.recovery = next
	return next[:], nil
}

func (e *Engine) applyTimelockUpdate(rec *txrecord.TxRecord) ([]byte, error) {
	period, err := DecodeTimelockOption(rec.Params.ExecutionOptions)
	if err != nil {
		return nil, err
	}
	e.timelock = period
	return rec.Params.ExecutionOptions, nil
}

// EncodeTimelockOption serializes a timelock period into the execution
// options of a TIMELOCK_UPDATE request. Sub-second precision is dropped.
func EncodeTimelockOption(period time.Duration) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(period/time.Second))
	return out
}

// DecodeTimelockOption parses the execution options of a TIMELOCK_UPDATE
// request back into a duration.
func DecodeTimelockOption(opts []byte) (time.Duration, error) {
	if len(opts) != 8 {
		return 0, fmt.Errorf("%w: want 8 option bytes, got %d", ErrInvalidTimelock, len(opts))
	}
	seconds := binary.BigEndian.Uint64(opts)
	if seconds == 0 {
		return 0, ErrInvalidTimelock
	}
	return time.Duration(seconds) * time.Second, nil
}

// OwnershipTransferID returns the identifier of the built-in ownership
// transfer operation type.
func OwnershipTransferID() OperationID { return DeriveOperationID(OpOwnershipTransfer) }

// BroadcasterUpdateID returns the identifier of the built-in broadcaster
// rotation operation type.
func BroadcasterUpdateID() OperationID { return DeriveOperationID(OpBroadcasterUpdate) }

// RecoveryUpdateID returns the identifier of the built-in recovery rotation
// operation type.
func RecoveryUpdateID() OperationID { return DeriveOperationID(OpRecoveryUpdate) }

// TimelockUpdateID returns the identifier of the built-in timelock update
// operation type.
func TimelockUpdateID() OperationID { return DeriveOperationID(OpTimelockUpdate) }
