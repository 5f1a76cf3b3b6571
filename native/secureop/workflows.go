package secureop

import (
	"guardian/native/roles"
)

// PhaseType tags a workflow step as time-delay or meta-transaction based.
type PhaseType string

const (
	PhaseTimeDelay PhaseType = "TIME_DELAY"
	PhaseMetaTx    PhaseType = "META_TX"
)

// WorkflowStep is one step of a valid workflow path. Off-chain signing steps
// happen outside the engine; the rest are entry point invocations.
type WorkflowStep struct {
	EntryPointName  string
	RequiredRoles   []string
	OffChainSigning bool
	Phase           PhaseType
}

// WorkflowPath is one complete, valid sequence of steps carrying an
// operation from PENDING to a terminal state.
type WorkflowPath struct {
	Name  string
	Steps []WorkflowStep
}

// rolesForAction lists the names of every role holding the action on the
// selector. Used to surface role eligibility in workflow metadata.
func (e *Engine) rolesForAction(selector roles.Selector, action roles.Action) []string {
	names := make([]string, 0, 2)
	for _, role := range e.roles.ListRoles() {
		if role.PermissionsFor(selector).Has(action) {
			names = append(names, role.Name)
		}
	}
	return names
}

func (e *Engine) step(name string, selector roles.Selector, action roles.Action, offchain bool, phase PhaseType) WorkflowStep {
	return WorkflowStep{
		EntryPointName:  name,
		RequiredRoles:   e.rolesForAction(selector, action),
		OffChainSigning: offchain,
		Phase:           phase,
	}
}

// WorkflowPaths exposes, for one operation type, every valid path with its
// ordered steps. Consumed by external tooling for documentation and UI.
func (e *Engine) WorkflowPaths(opID OperationID) ([]WorkflowPath, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, err := e.definition(opID)
	if err != nil {
		return nil, err
	}
	sel := def.Selector

	request := e.step("txRequest", sel, roles.ActionExecuteTimeDelayRequest, false, PhaseTimeDelay)
	delayedApproval := e.step("txDelayedApproval", sel, roles.ActionExecuteTimeDelayApprove, false, PhaseTimeDelay)
	cancellation := e.step("txCancellation", sel, roles.ActionExecuteTimeDelayCancel, false, PhaseTimeDelay)
	signApproval := e.step("signMetaApproval", sel, roles.ActionSignMetaApprove, true, PhaseMetaTx)
	metaApproval := e.step("txApprovalWithMetaTx", sel, roles.ActionExecuteMetaApprove, false, PhaseMetaTx)
	signCancellation := e.step("signMetaCancellation", sel, roles.ActionSignMetaCancel, true, PhaseMetaTx)
	metaCancellation := e.step("txCancellationWithMetaTx", sel, roles.ActionExecuteMetaCancel, false, PhaseMetaTx)

	switch def.Workflow {
	case WorkflowTimeDelayOnly:
		return []WorkflowPath{
			{Name: "timeDelayApproval", Steps: []WorkflowStep{request, delayedApproval}},
			{Name: "timeDelayCancellation", Steps: []WorkflowStep{request, cancellation}},
		}, nil
	case WorkflowHybrid:
		return []WorkflowPath{
			{Name: "timeDelayApproval", Steps: []WorkflowStep{request, delayedApproval}},
			{Name: "timeDelayCancellation", Steps: []WorkflowStep{request, cancellation}},
			{Name: "metaApproval", Steps: []WorkflowStep{request, signApproval, metaApproval}},
			{Name: "metaCancellation", Steps: []WorkflowStep{request, signCancellation, metaCancellation}},
		}, nil
	case WorkflowMetaTxSinglePhase:
		signRequestAndApprove := e.step("signMetaRequestAndApprove", sel, roles.ActionSignMetaRequestAndApprove, true, PhaseMetaTx)
		requestAndApprove := e.step("requestAndApprove", sel, roles.ActionExecuteMetaRequestAndApprove, false, PhaseMetaTx)
		return []WorkflowPath{
			{Name: "metaRequestAndApprove", Steps: []WorkflowStep{signRequestAndApprove, requestAndApprove}},
		}, nil
	case WorkflowMetaTxTwoPhase:
		signRequest := e.step("signMetaRequest", sel, roles.ActionSignMetaRequest, true, PhaseMetaTx)
		metaRequest := e.step("metaRequest", sel, roles.ActionExecuteMetaRequest, false, PhaseMetaTx)
		return []WorkflowPath{
			{Name: "metaTwoPhaseApproval", Steps: []WorkflowStep{signRequest, metaRequest, signApproval, metaApproval}},
			{Name: "metaTwoPhaseCancellation", Steps: []WorkflowStep{signRequest, metaRequest, signCancellation, metaCancellation}},
		}, nil
	default:
		return nil, ErrWorkflowViolation
	}
}
