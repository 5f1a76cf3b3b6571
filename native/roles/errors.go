package roles

import "errors"

var (
	ErrEmptyName        = errors.New("roles: role name must not be empty")
	ErrNameTaken        = errors.New("roles: role name already exists")
	ErrZeroCapacity     = errors.New("roles: max members must be positive")
	ErrCapacityExceeded = errors.New("roles: role capacity exceeded")
	ErrDuplicateMember  = errors.New("roles: identity already holds role")
	ErrMemberNotFound   = errors.New("roles: identity does not hold role")
	ErrZeroIdentity     = errors.New("roles: identity must not be zero")
	ErrRoleNotFound     = errors.New("roles: role not found")
	ErrRoleProtected    = errors.New("roles: role is protected")
	ErrEditingDisabled  = errors.New("roles: role editing disabled")
	ErrInvalidAction    = errors.New("roles: invalid action")
)
