package roles

import (
	"sort"
	"strings"
	"sync"
)

// Registry owns every role definition and the function-permission matrix
// derived from them. It is the single authority consulted before any guarded
// entry point mutates state.
//
// Protected roles are created once during engine initialization and reject
// all later mutation through the public surface; the engine rotates their
// membership through Rotate when a sanctioned workflow completes. A one-way
// editing switch freezes the whole permission surface for the lifetime of
// the registry once flipped.
type Registry struct {
	mu              sync.RWMutex
	roles           map[RoleID]*Role
	byName          map[string]RoleID
	editingDisabled bool
}

// NewRegistry constructs an empty role registry.
func NewRegistry() *Registry {
	return &Registry{
		roles:  make(map[RoleID]*Role),
		byName: make(map[string]RoleID),
	}
}

func trimName(name string) string {
	return strings.TrimSpace(name)
}

func (r *Registry) createRole(name string, maxMembers uint64, protected bool, grants []PermissionGrant) (RoleID, error) {
	trimmed := trimName(name)
	if trimmed == "" {
		return RoleID{}, ErrEmptyName
	}
	if maxMembers == 0 {
		return RoleID{}, ErrZeroCapacity
	}
	if r.editingDisabled {
		return RoleID{}, ErrEditingDisabled
	}
	if _, exists := r.byName[trimmed]; exists {
		return RoleID{}, ErrNameTaken
	}
	id := DeriveRoleID(trimmed)
	role := &Role{
		Name:        trimmed,
		ID:          id,
		MaxMembers:  maxMembers,
		Protected:   protected,
		members:     make(map[[20]byte]struct{}),
		permissions: make(map[Selector]ActionSet),
	}
	for _, grant := range grants {
		if grant.Actions == 0 {
			continue
		}
		role.permissions[grant.Selector] |= grant.Actions
	}
	r.roles[id] = role
	r.byName[trimmed] = id
	return id, nil
}

// CreateRole registers an editable role with the provided capacity and
// initial permission grants.
func (r *Registry) CreateRole(name string, maxMembers uint64, grants []PermissionGrant) (RoleID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createRole(name, maxMembers, false, grants)
}

// CreateProtectedRole registers a role whose membership and permissions are
// immutable once seeded. Initial members are installed atomically with the
// definition; the capacity check applies to the seed set as well.
func (r *Registry) CreateProtectedRole(name string, maxMembers uint64, grants []PermissionGrant, members ...[20]byte) (RoleID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if uint64(len(members)) > maxMembers {
		return RoleID{}, ErrCapacityExceeded
	}
	id, err := r.createRole(name, maxMembers, true, grants)
	if err != nil {
		return RoleID{}, err
	}
	role := r.roles[id]
	for _, member := range members {
		if member == ([20]byte{}) {
			delete(r.roles, id)
			delete(r.byName, role.Name)
			return RoleID{}, ErrZeroIdentity
		}
		if _, dup := role.members[member]; dup {
			delete(r.roles, id)
			delete(r.byName, role.Name)
			return RoleID{}, ErrDuplicateMember
		}
		role.members[member] = struct{}{}
	}
	return id, nil
}

// mutableRole centralizes the protected/editing-disabled guard so the checks
// are not scattered across every mutator.
func (r *Registry) mutableRole(id RoleID) (*Role, error) {
	if r.editingDisabled {
		return nil, ErrEditingDisabled
	}
	role, ok := r.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	if role.Protected {
		return nil, ErrRoleProtected
	}
	return role, nil
}

// AddMember adds an identity to an editable role, enforcing capacity and
// duplicate checks.
func (r *Registry) AddMember(id RoleID, identity [20]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if identity == ([20]byte{}) {
		return ErrZeroIdentity
	}
	role, err := r.mutableRole(id)
	if err != nil {
		return err
	}
	if _, exists := role.members[identity]; exists {
		return ErrDuplicateMember
	}
	if uint64(len(role.members)) >= role.MaxMembers {
		return ErrCapacityExceeded
	}
	role.members[identity] = struct{}{}
	return nil
}

// RemoveMember removes an identity from an editable role.
func (r *Registry) RemoveMember(id RoleID, identity [20]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, err := r.mutableRole(id)
	if err != nil {
		return err
	}
	if _, exists := role.members[identity]; !exists {
		return ErrMemberNotFound
	}
	delete(role.members, identity)
	return nil
}

// GrantFunctionPermission adds actions to the role's grant on a selector.
func (r *Registry) GrantFunctionPermission(id RoleID, selector Selector, actions ...Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, err := r.mutableRole(id)
	if err != nil {
		return err
	}
	set := role.permissions[selector]
	for _, action := range actions {
		if !action.Valid() {
			return ErrInvalidAction
		}
		set = set.Add(action)
	}
	role.permissions[selector] = set
	return nil
}

// RevokeFunctionPermission removes actions from the role's grant on a
// selector. Revoking the last action clears the selector entry.
func (r *Registry) RevokeFunctionPermission(id RoleID, selector Selector, actions ...Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, err := r.mutableRole(id)
	if err != nil {
		return err
	}
	set := role.permissions[selector]
	for _, action := range actions {
		if !action.Valid() {
			return ErrInvalidAction
		}
		set = set.Remove(action)
	}
	if set == 0 {
		delete(role.permissions, selector)
	} else {
		role.permissions[selector] = set
	}
	return nil
}

// Rotate swaps one member of a role for another while keeping the membership
// size constant. This is the engine's sanctioned path for updating protected
// roles when an authorized workflow (ownership transfer, broadcaster or
// recovery rotation) completes; it deliberately bypasses the protected guard
// but still honors the one-way editing switch and zero-identity checks.
func (r *Registry) Rotate(id RoleID, outgoing, incoming [20]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if incoming == ([20]byte{}) {
		return ErrZeroIdentity
	}
	role, ok := r.roles[id]
	if !ok {
		return ErrRoleNotFound
	}
	if _, exists := role.members[outgoing]; !exists {
		return ErrMemberNotFound
	}
	if outgoing == incoming {
		return nil
	}
	if _, exists := role.members[incoming]; exists {
		return ErrDuplicateMember
	}
	delete(role.members, outgoing)
	role.members[incoming] = struct{}{}
	return nil
}

// DisableEditing flips the one-way switch that freezes the entire permission
// surface. There is no way to re-enable editing on the same registry.
func (r *Registry) DisableEditing() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.editingDisabled = true
}

// EditingDisabled reports whether the freeze switch has been flipped.
func (r *Registry) EditingDisabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.editingDisabled
}

// IsAuthorized reports whether the caller belongs to some role holding the
// action on the selector. This is the single gate consulted before every
// state-mutating entry point.
func (r *Registry) IsAuthorized(caller [20]byte, selector Selector, action Action) bool {
	if caller == ([20]byte{}) || !action.Valid() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range r.roles {
		if _, member := role.members[caller]; !member {
			continue
		}
		if role.permissions[selector].Has(action) {
			return true
		}
	}
	return false
}

// HasRole reports whether the identity belongs to the role.
func (r *Registry) HasRole(id RoleID, identity [20]byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	if !ok {
		return false
	}
	_, member := role.members[identity]
	return member
}

// GetRole returns a defensive copy of the role definition.
func (r *Registry) GetRole(id RoleID) (*Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	if !ok {
		return nil, false
	}
	return cloneRole(role), true
}

// GetRoleByName resolves a role by its trimmed name.
func (r *Registry) GetRoleByName(name string) (*Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[trimName(name)]
	if !ok {
		return nil, false
	}
	return cloneRole(r.roles[id]), true
}

// ListRoles returns defensive copies of every role, sorted by name.
func (r *Registry) ListRoles() []*Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, cloneRole(role))
	}
	sortRolesByName(out)
	return out
}

// RolesOf returns the identifiers of every role the identity belongs to,
// sorted by role name for determinism.
func (r *Registry) RolesOf(identity [20]byte) []RoleID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := make([]*Role, 0, 2)
	for _, role := range r.roles {
		if _, member := role.members[identity]; member {
			matched = append(matched, role)
		}
	}
	sortRolesByName(matched)
	out := make([]RoleID, len(matched))
	for i, role := range matched {
		out[i] = role.ID
	}
	return out
}

func cloneRole(role *Role) *Role {
	if role == nil {
		return nil
	}
	clone := &Role{
		Name:        role.Name,
		ID:          role.ID,
		MaxMembers:  role.MaxMembers,
		Protected:   role.Protected,
		members:     make(map[[20]byte]struct{}, len(role.members)),
		permissions: make(map[Selector]ActionSet, len(role.permissions)),
	}
	for member := range role.members {
		clone.members[member] = struct{}{}
	}
	for sel, set := range role.permissions {
		clone.permissions[sel] = set
	}
	return clone
}

func sortRolesByName(list []*Role) {
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
}
