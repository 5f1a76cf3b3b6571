package secureop

import "errors"

var (
	ErrNotInitialized     = errors.New("secureop: engine not initialized")
	ErrAlreadyInitialized = errors.New("secureop: engine already initialized")
	ErrUnknownOperation   = errors.New("secureop: unknown operation type")
	ErrOperationExists    = errors.New("secureop: operation type already registered")
	ErrWorkflowViolation  = errors.New("secureop: entry point not valid for workflow")
	ErrNotAuthorized      = errors.New("secureop: caller lacks required permission")
	ErrSignerNotEligible  = errors.New("secureop: signer lacks required permission")
	ErrRoleSeparation     = errors.New("secureop: signer and submitter must differ")
	ErrTimelockNotElapsed = errors.New("secureop: timelock not elapsed")
	ErrAlreadyFinalized   = errors.New("secureop: record already finalized")
	ErrActionMismatch     = errors.New("secureop: meta action does not match entry point")
	ErrOperationMismatch  = errors.New("secureop: meta payload targets a different operation")
	ErrExecutionFailed    = errors.New("secureop: target action failed")
	ErrZeroTarget         = errors.New("secureop: target must not be zero")
	ErrZeroCaller         = errors.New("secureop: caller must not be zero")
	ErrInvalidTimelock    = errors.New("secureop: timelock period must be positive")
)
