package roles

import (
	"bytes"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Selector identifies a guarded entry point. Selectors are derived from the
// entry point signature the same way EVM function selectors are, keeping the
// permission matrix stable across deployments.
type Selector [4]byte

// SelectorFromSignature derives the selector for a canonical entry point
// signature such as "transferOwnership(address)".
func SelectorFromSignature(signature string) Selector {
	var sel Selector
	hash := ethcrypto.Keccak256([]byte(strings.TrimSpace(signature)))
	copy(sel[:], hash[:4])
	return sel
}

// Action enumerates every way a guarded entry point may be exercised. The set
// is closed: workflow definitions reference these values and the permission
// matrix stores them as a bitset.
type Action uint8

const (
	ActionExecuteTimeDelayRequest Action = iota
	ActionExecuteTimeDelayApprove
	ActionExecuteTimeDelayCancel
	ActionSignMetaRequest
	ActionSignMetaRequestAndApprove
	ActionSignMetaApprove
	ActionSignMetaCancel
	ActionExecuteMetaRequest
	ActionExecuteMetaRequestAndApprove
	ActionExecuteMetaApprove
	ActionExecuteMetaCancel

	actionSentinel // keep last
)

// Valid reports whether the action is a member of the closed enum.
func (a Action) Valid() bool {
	return a < actionSentinel
}

func (a Action) String() string {
	switch a {
	case ActionExecuteTimeDelayRequest:
		return "EXECUTE_TIME_DELAY_REQUEST"
	case ActionExecuteTimeDelayApprove:
		return "EXECUTE_TIME_DELAY_APPROVE"
	case ActionExecuteTimeDelayCancel:
		return "EXECUTE_TIME_DELAY_CANCEL"
	case ActionSignMetaRequest:
		return "SIGN_META_REQUEST"
	case ActionSignMetaRequestAndApprove:
		return "SIGN_META_REQUEST_AND_APPROVE"
	case ActionSignMetaApprove:
		return "SIGN_META_APPROVE"
	case ActionSignMetaCancel:
		return "SIGN_META_CANCEL"
	case ActionExecuteMetaRequest:
		return "EXECUTE_META_REQUEST"
	case ActionExecuteMetaRequestAndApprove:
		return "EXECUTE_META_REQUEST_AND_APPROVE"
	case ActionExecuteMetaApprove:
		return "EXECUTE_META_APPROVE"
	case ActionExecuteMetaCancel:
		return "EXECUTE_META_CANCEL"
	default:
		return "UNKNOWN"
	}
}

// ActionSet is a bitset over the closed Action enum.
type ActionSet uint16

// Add returns the set with the action included.
func (s ActionSet) Add(a Action) ActionSet {
	if !a.Valid() {
		return s
	}
	return s | (1 << uint(a))
}

// Remove returns the set with the action excluded.
func (s ActionSet) Remove(a Action) ActionSet {
	if !a.Valid() {
		return s
	}
	return s &^ (1 << uint(a))
}

// Has reports whether the action is a member of the set.
func (s ActionSet) Has(a Action) bool {
	if !a.Valid() {
		return false
	}
	return s&(1<<uint(a)) != 0
}

// Actions expands the bitset into the enum values it contains.
func (s ActionSet) Actions() []Action {
	out := make([]Action, 0, 4)
	for a := Action(0); a < actionSentinel; a++ {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// NewActionSet builds a set from the supplied actions.
func NewActionSet(actions ...Action) ActionSet {
	var s ActionSet
	for _, a := range actions {
		s = s.Add(a)
	}
	return s
}

// RoleID is the stable identifier of a role, derived from its name.
type RoleID [32]byte

// DeriveRoleID hashes the trimmed role name into its stable identifier.
func DeriveRoleID(name string) RoleID {
	var id RoleID
	copy(id[:], ethcrypto.Keccak256([]byte(strings.TrimSpace(name))))
	return id
}

// PermissionGrant couples a guarded selector with the actions a role may
// exercise on it. Used when seeding roles at creation time.
type PermissionGrant struct {
	Selector Selector
	Actions  ActionSet
}

// Role captures a named group of identities together with the entry point
// actions its members may exercise. Protected roles are frozen after
// initialization: membership and permissions reject every mutation.
type Role struct {
	Name        string
	ID          RoleID
	MaxMembers  uint64
	Protected   bool
	members     map[[20]byte]struct{}
	permissions map[Selector]ActionSet
}

// MemberCount returns the current membership size.
func (r *Role) MemberCount() uint64 {
	if r == nil {
		return 0
	}
	return uint64(len(r.members))
}

// HasMember reports whether the identity belongs to the role.
func (r *Role) HasMember(identity [20]byte) bool {
	if r == nil {
		return false
	}
	_, ok := r.members[identity]
	return ok
}

// Members returns the membership in deterministic (byte-sorted) order.
func (r *Role) Members() [][20]byte {
	if r == nil {
		return nil
	}
	out := make([][20]byte, 0, len(r.members))
	for member := range r.members {
		out = append(out, member)
	}
	sortIdentities(out)
	return out
}

// PermissionsFor returns the action set granted on a selector.
func (r *Role) PermissionsFor(selector Selector) ActionSet {
	if r == nil {
		return 0
	}
	return r.permissions[selector]
}

// Selectors returns every selector the role holds grants on, byte-sorted.
func (r *Role) Selectors() []Selector {
	if r == nil {
		return nil
	}
	out := make([]Selector, 0, len(r.permissions))
	for sel := range r.permissions {
		out = append(out, sel)
	}
	sortSelectors(out)
	return out
}

func sortIdentities(list [][20]byte) {
	sort.Slice(list, func(i, j int) bool {
		return bytes.Compare(list[i][:], list[j][:]) < 0
	})
}

func sortSelectors(list []Selector) {
	sort.Slice(list, func(i, j int) bool {
		return bytes.Compare(list[i][:], list[j][:]) < 0
	})
}
