package roles

import (
	"errors"
	"testing"
)

func identity(b byte) [20]byte {
	var id [20]byte
	id[19] = b
	return id
}

func TestCreateRoleValidation(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.CreateRole("  ", 3, nil); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected empty name error, got %v", err)
	}
	if _, err := reg.CreateRole("MANAGER", 0, nil); !errors.Is(err, ErrZeroCapacity) {
		t.Fatalf("expected zero capacity error, got %v", err)
	}
	if _, err := reg.CreateRole("MANAGER", 3, nil); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if _, err := reg.CreateRole("MANAGER", 5, nil); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected name taken error, got %v", err)
	}
}

func TestMembershipCapacity(t *testing.T) {
	reg := NewRegistry()
	id, err := reg.CreateRole("MANAGER", 3, nil)
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	for i := byte(1); i <= 3; i++ {
		if err := reg.AddMember(id, identity(i)); err != nil {
			t.Fatalf("add member %d: %v", i, err)
		}
	}
	if err := reg.AddMember(id, identity(4)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	role, ok := reg.GetRole(id)
	if !ok {
		t.Fatalf("role not found")
	}
	if role.MemberCount() != 3 {
		t.Fatalf("expected 3 members, got %d", role.MemberCount())
	}
}

func TestDuplicateAndAbsentMembers(t *testing.T) {
	reg := NewRegistry()
	id, _ := reg.CreateRole("OPERATOR", 5, nil)
	member := identity(1)
	if err := reg.AddMember(id, member); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := reg.AddMember(id, member); !errors.Is(err, ErrDuplicateMember) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := reg.RemoveMember(id, identity(9)); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected member not found, got %v", err)
	}
	if err := reg.RemoveMember(id, member); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if reg.HasRole(id, member) {
		t.Fatalf("member should be removed")
	}
}

func TestProtectedRoleImmutable(t *testing.T) {
	reg := NewRegistry()
	sel := SelectorFromSignature("transferOwnership(address)")
	grants := []PermissionGrant{{Selector: sel, Actions: NewActionSet(ActionExecuteTimeDelayApprove)}}
	id, err := reg.CreateProtectedRole("OWNER_ROLE", 1, grants, identity(1))
	if err != nil {
		t.Fatalf("create protected role: %v", err)
	}
	if err := reg.AddMember(id, identity(2)); !errors.Is(err, ErrRoleProtected) {
		t.Fatalf("expected protected error on add, got %v", err)
	}
	if err := reg.RemoveMember(id, identity(1)); !errors.Is(err, ErrRoleProtected) {
		t.Fatalf("expected protected error on remove, got %v", err)
	}
	if err := reg.GrantFunctionPermission(id, sel, ActionSignMetaApprove); !errors.Is(err, ErrRoleProtected) {
		t.Fatalf("expected protected error on grant, got %v", err)
	}
	if err := reg.RevokeFunctionPermission(id, sel, ActionExecuteTimeDelayApprove); !errors.Is(err, ErrRoleProtected) {
		t.Fatalf("expected protected error on revoke, got %v", err)
	}
	// The grants installed at creation must survive untouched.
	if !reg.IsAuthorized(identity(1), sel, ActionExecuteTimeDelayApprove) {
		t.Fatalf("protected member should remain authorized")
	}
}

func TestProtectedSeedCapacity(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.CreateProtectedRole("OWNER_ROLE", 1, nil, identity(1), identity(2)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected capacity error for oversized seed, got %v", err)
	}
}

func TestEditingDisabledFreezesSurface(t *testing.T) {
	reg := NewRegistry()
	id, _ := reg.CreateRole("OPERATOR", 5, nil)
	if err := reg.AddMember(id, identity(1)); err != nil {
		t.Fatalf("add member: %v", err)
	}
	reg.DisableEditing()
	if !reg.EditingDisabled() {
		t.Fatalf("editing should be disabled")
	}
	if _, err := reg.CreateRole("ANOTHER", 2, nil); !errors.Is(err, ErrEditingDisabled) {
		t.Fatalf("expected editing disabled on create, got %v", err)
	}
	if err := reg.AddMember(id, identity(2)); !errors.Is(err, ErrEditingDisabled) {
		t.Fatalf("expected editing disabled on add, got %v", err)
	}
	sel := SelectorFromSignature("mint(address,uint256)")
	if err := reg.GrantFunctionPermission(id, sel, ActionExecuteTimeDelayRequest); !errors.Is(err, ErrEditingDisabled) {
		t.Fatalf("expected editing disabled on grant, got %v", err)
	}
	// Reads keep working after the freeze.
	if !reg.HasRole(id, identity(1)) {
		t.Fatalf("existing membership should survive the freeze")
	}
}

func TestIsAuthorized(t *testing.T) {
	reg := NewRegistry()
	sel := SelectorFromSignature("mint(address,uint256)")
	other := SelectorFromSignature("burn(address,uint256)")
	id, _ := reg.CreateRole("MINTER", 2, []PermissionGrant{
		{Selector: sel, Actions: NewActionSet(ActionExecuteTimeDelayRequest, ActionExecuteTimeDelayApprove)},
	})
	member := identity(1)
	if err := reg.AddMember(id, member); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if !reg.IsAuthorized(member, sel, ActionExecuteTimeDelayRequest) {
		t.Fatalf("member should be authorized for granted action")
	}
	if reg.IsAuthorized(member, sel, ActionSignMetaApprove) {
		t.Fatalf("member must not be authorized for ungranted action")
	}
	if reg.IsAuthorized(member, other, ActionExecuteTimeDelayRequest) {
		t.Fatalf("member must not be authorized on ungranted selector")
	}
	if reg.IsAuthorized(identity(2), sel, ActionExecuteTimeDelayRequest) {
		t.Fatalf("non-member must not be authorized")
	}
	if reg.IsAuthorized([20]byte{}, sel, ActionExecuteTimeDelayRequest) {
		t.Fatalf("zero identity must never be authorized")
	}
}

func TestRevokeClearsSelector(t *testing.T) {
	reg := NewRegistry()
	sel := SelectorFromSignature("pause()")
	id, _ := reg.CreateRole("PAUSER", 2, []PermissionGrant{
		{Selector: sel, Actions: NewActionSet(ActionExecuteTimeDelayRequest)},
	})
	member := identity(7)
	if err := reg.AddMember(id, member); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := reg.RevokeFunctionPermission(id, sel, ActionExecuteTimeDelayRequest); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if reg.IsAuthorized(member, sel, ActionExecuteTimeDelayRequest) {
		t.Fatalf("revoked action must not authorize")
	}
	role, _ := reg.GetRole(id)
	if len(role.Selectors()) != 0 {
		t.Fatalf("empty grant should clear the selector entry")
	}
}

func TestRotate(t *testing.T) {
	reg := NewRegistry()
	id, err := reg.CreateProtectedRole("OWNER_ROLE", 1, nil, identity(1))
	if err != nil {
		t.Fatalf("create protected role: %v", err)
	}
	if err := reg.Rotate(id, identity(1), identity(2)); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if reg.HasRole(id, identity(1)) || !reg.HasRole(id, identity(2)) {
		t.Fatalf("rotation did not swap membership")
	}
	if err := reg.Rotate(id, identity(1), identity(3)); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected member not found for stale outgoing, got %v", err)
	}
	if err := reg.Rotate(id, identity(2), [20]byte{}); !errors.Is(err, ErrZeroIdentity) {
		t.Fatalf("expected zero identity error, got %v", err)
	}
}

func TestActionSetRoundTrip(t *testing.T) {
	set := NewActionSet(ActionSignMetaApprove, ActionExecuteMetaApprove)
	if !set.Has(ActionSignMetaApprove) || !set.Has(ActionExecuteMetaApprove) {
		t.Fatalf("set missing added actions")
	}
	set = set.Remove(ActionSignMetaApprove)
	if set.Has(ActionSignMetaApprove) {
		t.Fatalf("removed action still present")
	}
	actions := set.Actions()
	if len(actions) != 1 || actions[0] != ActionExecuteMetaApprove {
		t.Fatalf("unexpected expansion: %v", actions)
	}
}
