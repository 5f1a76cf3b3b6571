package secureop

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"guardian/core/events"
	"guardian/native/metatx"
	"guardian/native/nonce"
	"guardian/native/roles"
	"guardian/native/txrecord"
	"guardian/observability/metrics"
	"guardian/storage"
)

// Config carries the deployment-level knobs of an engine instance.
type Config struct {
	// ChainID binds every signed payload to this deployment's chain.
	ChainID uint64
	// EngineAddress identifies this engine instance inside signed payloads,
	// preventing replay of a signature against a different deployment on the
	// same chain.
	EngineAddress [20]byte
	// TimelockPeriod is the minimum delay between requesting and approving a
	// time-delayed operation.
	TimelockPeriod time.Duration
}

// Engine orchestrates the secure-operation workflows. It exclusively owns the
// role registry, nonce registry, and transaction ledger; external callers
// hold only identifiers and interact through the entry points below.
//
// Every entry point runs under one mutex, so transitions are atomic and
// sequential: either all guards pass and the transition commits in full, or
// nothing changes.
type Engine struct {
	mu sync.Mutex

	roles   *roles.Registry
	nonces  *nonce.Registry
	records *txrecord.Store
	codec   *metatx.Codec

	emitter events.Emitter
	metrics *metrics.EngineMetrics
	nowFn   func() time.Time

	address  [20]byte
	timelock time.Duration

	initialized bool
	ops         map[OperationID]*OperationDefinition
	handlers    map[OperationID]Handler

	owner       [20]byte
	broadcaster [20]byte
	recovery    [20]byte

	ownerRole       roles.RoleID
	broadcasterRole roles.RoleID
	recoveryRole    roles.RoleID
}

// NewEngine constructs an engine over the provided storage backend. The
// ledger is reopened from the backend, so a restarted engine resumes with its
// full history.
func NewEngine(cfg Config, db storage.Database) (*Engine, error) {
	if cfg.TimelockPeriod <= 0 {
		return nil, ErrInvalidTimelock
	}
	records, err := txrecord.NewStore(db)
	if err != nil {
		return nil, err
	}
	nonces := nonce.NewRegistry()
	return &Engine{
		roles:    roles.NewRegistry(),
		nonces:   nonces,
		records:  records,
		codec:    metatx.NewCodec(cfg.ChainID, nonces),
		emitter:  events.NoopEmitter{},
		nowFn:    func() time.Time { return time.Now().UTC() },
		address:  cfg.EngineAddress,
		timelock: cfg.TimelockPeriod,
		ops:      make(map[OperationID]*OperationDefinition),
		handlers: make(map[OperationID]Handler),
	}, nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetMetrics attaches prometheus collectors. A nil value keeps observation
// sites as no-ops.
func (e *Engine) SetMetrics(m *metrics.EngineMetrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// SetNowFunc overrides the time source used by the engine and its codec.
// Primarily intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	e.nowFn = now
	e.codec.SetNowFunc(now)
}

func (e *Engine) now() time.Time {
	return e.nowFn()
}

func (e *Engine) emit(evt *events.Event) {
	if evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// --- operation type registration ---

// RegisterOperationType installs an operation type together with the handler
// executed once a workflow authorizes it. The definition's grants are applied
// to the role registry against the operation's selector; definitions are
// immutable afterwards.
func (e *Engine) RegisterOperationType(def OperationDefinition, handler Handler) (OperationID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registerOperation(def, handler)
}

func (e *Engine) registerOperation(def OperationDefinition, handler Handler) (OperationID, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return OperationID{}, fmt.Errorf("secureop: operation name must not be empty")
	}
	def.Name = name
	if def.ID == (OperationID{}) {
		def.ID = DeriveOperationID(name)
	}
	if _, exists := e.ops[def.ID]; exists {
		return OperationID{}, ErrOperationExists
	}
	for _, grant := range def.Grants {
		if err := e.roles.GrantFunctionPermission(grant.Role, def.Selector, grant.Actions.Actions()...); err != nil {
			return OperationID{}, err
		}
	}
	stored := def
	stored.Grants = append([]RoleGrant(nil), def.Grants...)
	e.ops[def.ID] = &stored
	e.handlers[def.ID] = handler
	return def.ID, nil
}

func (e *Engine) definition(id OperationID) (*OperationDefinition, error) {
	def, ok := e.ops[id]
	if !ok {
		return nil, ErrUnknownOperation
	}
	return def, nil
}

// --- guards ---

func (e *Engine) requireInitialized() error {
	if !e.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (e *Engine) requireAuthorized(caller [20]byte, selector roles.Selector, action roles.Action) error {
	if !e.roles.IsAuthorized(caller, selector, action) {
		e.metrics.ObserveRejection("authorization")
		return fmt.Errorf("%w: %s", ErrNotAuthorized, action)
	}
	return nil
}

// verifyMeta runs the full meta-transaction guard chain: action and handler
// binding, role separation, the two independent capability tests (signer and
// submitter), then cryptographic verification which consumes the nonce. The
// record argument is the authoritative copy the signature must cover.
func (e *Engine) verifyMeta(caller [20]byte, meta *metatx.MetaTx, def *OperationDefinition, signAction, execAction roles.Action, record *txrecord.TxRecord, effectiveGasPrice *big.Int) error {
	if meta == nil || meta.Record == nil {
		return metatx.ErrNilRecord
	}
	if meta.Params.Action != signAction {
		e.metrics.ObserveRejection("action_mismatch")
		return ErrActionMismatch
	}
	if meta.Params.HandlerSelector != def.Selector || meta.Params.HandlerContract != e.address {
		e.metrics.ObserveRejection("handler_mismatch")
		return ErrOperationMismatch
	}
	if caller == meta.Params.Signer {
		e.metrics.ObserveRejection("role_separation")
		return ErrRoleSeparation
	}
	if !e.roles.IsAuthorized(meta.Params.Signer, def.Selector, signAction) {
		e.metrics.ObserveRejection("signer_authorization")
		return fmt.Errorf("%w: %s", ErrSignerNotEligible, signAction)
	}
	if err := e.requireAuthorized(caller, def.Selector, execAction); err != nil {
		return err
	}
	bound := &metatx.MetaTx{
		Record:      record,
		Params:      meta.Params,
		MessageHash: meta.MessageHash,
		Signature:   meta.Signature,
	}
	if err := e.codec.Verify(bound, effectiveGasPrice); err != nil {
		e.metrics.ObserveRejection("signature")
		return err
	}
	return nil
}

// --- time-delay entry points ---

// RequestParams carries the caller-facing arguments of a new operation
// request.
type RequestParams struct {
	OperationType    OperationID
	Target           [20]byte
	Value            *big.Int
	GasLimit         uint64
	ExecutionType    txrecord.ExecutionType
	ExecutionOptions []byte
}

// TxRequest opens a time-delayed operation: it allocates a PENDING record
// whose release time is the current time plus the timelock period.
func (e *Engine) TxRequest(caller [20]byte, req RequestParams) (*txrecord.TxRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if caller == ([20]byte{}) {
		return nil, ErrZeroCaller
	}
	def, err := e.definition(req.OperationType)
	if err != nil {
		return nil, err
	}
	switch def.Workflow {
	case WorkflowTimeDelayOnly, WorkflowHybrid:
	default:
		return nil, ErrWorkflowViolation
	}
	if err := e.requireAuthorized(caller, def.Selector, roles.ActionExecuteTimeDelayRequest); err != nil {
		return nil, err
	}
	rec, err := e.records.Create(txrecord.TxParams{
		Requester:        caller,
		Target:           req.Target,
		Value:            req.Value,
		GasLimit:         req.GasLimit,
		OperationType:    [32]byte(def.ID),
		ExecutionType:    req.ExecutionType,
		ExecutionOptions: req.ExecutionOptions,
	}, e.now().Add(e.timelock).Unix())
	if err != nil {
		return nil, err
	}
	e.emit(newRequestedEvent(def, rec))
	e.metrics.ObserveTransition(def.Name, "txRequest", "pending")
	return rec, nil
}

// TxDelayedApproval completes a pending record through the time-delay path.
// It succeeds only once the release time has been reached and the caller is
// authorized for the approve action.
func (e *Engine) TxDelayedApproval(caller [20]byte, txID uint64) (*txrecord.TxRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	rec, def, err := e.pendingRecord(txID, WorkflowTimeDelayOnly, WorkflowHybrid)
	if err != nil {
		return nil, err
	}
	if err := e.requireAuthorized(caller, def.Selector, roles.ActionExecuteTimeDelayApprove); err != nil {
		return nil, err
	}
	if e.now().Unix() < rec.ReleaseTime {
		e.metrics.ObserveRejection("timelock")
		return nil, ErrTimelockNotElapsed
	}
	return e.executeAndFinalize(def, rec, "txDelayedApproval")
}

// TxCancellation cancels a pending record through the time-delay path. The
// cancel action has no timelock gate; it is available while the record is
// still PENDING.
func (e *Engine) TxCancellation(caller [20]byte, txID uint64) (*txrecord.TxRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	rec, def, err := e.pendingRecord(txID, WorkflowTimeDelayOnly, WorkflowHybrid)
	if err != nil {
		return nil, err
	}
	if err := e.requireAuthorized(caller, def.Selector, roles.ActionExecuteTimeDelayCancel); err != nil {
		return nil, err
	}
	cancelled, err := e.records.Finalize(rec.TxID, txrecord.StatusCancelled, nil)
	if err != nil {
		return nil, err
	}
	e.emit(newCancelledEvent(def, cancelled))
	e.metrics.ObserveTransition(def.Name, "txCancellation", "cancelled")
	return cancelled, nil
}

// --- meta-transaction entry points ---

// RequestAndApprove executes a single-phase meta operation: one identity
// signs the request-and-approve message off-chain and a role-distinct
// executor submits it. The record is created and completed atomically.
func (e *Engine) RequestAndApprove(caller [20]byte, meta *metatx.MetaTx, effectiveGasPrice *big.Int) (*txrecord.TxRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	def, err := e.metaDefinition(caller, meta, WorkflowMetaTxSinglePhase)
	if err != nil {
		return nil, err
	}
	if err := e.verifyMeta(caller, meta, def, roles.ActionSignMetaRequestAndApprove, roles.ActionExecuteMetaRequestAndApprove, meta.Record, effectiveGasPrice); err != nil {
		return nil, err
	}
	rec, err := e.createFromMeta(def, meta)
	if err != nil {
		return nil, err
	}
	return e.executeAndFinalize(def, rec, "requestAndApprove")
}

// MetaRequest opens the first leg of a two-phase meta operation: a signed
// request submitted by an executor creates the PENDING record. The approval
// leg arrives later through TxApprovalWithMetaTx.
func (e *Engine) MetaRequest(caller [20]byte, meta *metatx.MetaTx, effectiveGasPrice *big.Int) (*txrecord.TxRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	def, err := e.metaDefinition(caller, meta, WorkflowMetaTxTwoPhase)
	if err != nil {
		return nil, err
	}
	if err := e.verifyMeta(caller, meta, def, roles.ActionSignMetaRequest, roles.ActionExecuteMetaRequest, meta.Record, effectiveGasPrice); err != nil {
		return nil, err
	}
	rec, err := e.createFromMeta(def, meta)
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveTransition(def.Name, "metaRequest", "pending")
	return rec, nil
}

// TxApprovalWithMetaTx completes an existing pending record through the
// signed path. Valid for hybrid operations (counter-role signature bypasses
// the timelock) and for the second leg of two-phase meta operations.
func (e *Engine) TxApprovalWithMetaTx(caller [20]byte, meta *metatx.MetaTx, effectiveGasPrice *big.Int) (*txrecord.TxRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if meta == nil || meta.Record == nil {
		return nil, metatx.ErrNilRecord
	}
	rec, def, err := e.pendingRecord(meta.Record.TxID, WorkflowHybrid, WorkflowMetaTxTwoPhase)
	if err != nil {
		return nil, err
	}
	if err := e.verifyMeta(caller, meta, def, roles.ActionSignMetaApprove, roles.ActionExecuteMetaApprove, rec, effectiveGasPrice); err != nil {
		return nil, err
	}
	return e.executeAndFinalize(def, rec, "txApprovalWithMetaTx")
}

// TxCancellationWithMetaTx cancels an existing pending record through the
// signed path.
func (e *Engine) TxCancellationWithMetaTx(caller [20]byte, meta *metatx.MetaTx, effectiveGasPrice *big.Int) (*txrecord.TxRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if meta == nil || meta.Record == nil {
		return nil, metatx.ErrNilRecord
	}
	rec, def, err := e.pendingRecord(meta.Record.TxID, WorkflowHybrid, WorkflowMetaTxTwoPhase)
	if err != nil {
		return nil, err
	}
	if err := e.verifyMeta(caller, meta, def, roles.ActionSignMetaCancel, roles.ActionExecuteMetaCancel, rec, effectiveGasPrice); err != nil {
		return nil, err
	}
	cancelled, err := e.records.Finalize(rec.TxID, txrecord.StatusCancelled, nil)
	if err != nil {
		return nil, err
	}
	e.emit(newCancelledEvent(def, cancelled))
	e.metrics.ObserveTransition(def.Name, "txCancellationWithMetaTx", "cancelled")
	return cancelled, nil
}

// --- shared transition helpers ---

// pendingRecord loads the record, resolves its operation definition, checks
// the workflow admits the entry point, and enforces the exact prior-state
// guard.
func (e *Engine) pendingRecord(txID uint64, allowed ...WorkflowKind) (*txrecord.TxRecord, *OperationDefinition, error) {
	rec, err := e.records.Get(txID)
	if err != nil {
		return nil, nil, err
	}
	def, err := e.definition(OperationID(rec.Params.OperationType))
	if err != nil {
		return nil, nil, err
	}
	permitted := false
	for _, kind := range allowed {
		if def.Workflow == kind {
			permitted = true
			break
		}
	}
	if !permitted {
		return nil, nil, ErrWorkflowViolation
	}
	if rec.Status != txrecord.StatusPending {
		e.metrics.ObserveRejection("state")
		return nil, nil, fmt.Errorf("%w: status %s", ErrAlreadyFinalized, rec.Status)
	}
	return rec, def, nil
}

// metaDefinition resolves and checks the definition for a meta entry point
// that proposes a new record.
func (e *Engine) metaDefinition(caller [20]byte, meta *metatx.MetaTx, kind WorkflowKind) (*OperationDefinition, error) {
	if caller == ([20]byte{}) {
		return nil, ErrZeroCaller
	}
	if meta == nil || meta.Record == nil {
		return nil, metatx.ErrNilRecord
	}
	def, err := e.definition(OperationID(meta.Record.Params.OperationType))
	if err != nil {
		return nil, err
	}
	if def.Workflow != kind {
		return nil, ErrWorkflowViolation
	}
	if meta.Record.Params.Requester != meta.Params.Signer {
		return nil, fmt.Errorf("%w: requester must equal signer", ErrOperationMismatch)
	}
	return def, nil
}

// createFromMeta persists the proposed record of a verified meta request.
// Meta-created records carry the current time as their release time: the
// approval leg is signature-gated, not time-gated.
func (e *Engine) createFromMeta(def *OperationDefinition, meta *metatx.MetaTx) (*txrecord.TxRecord, error) {
	rec, err := e.records.Create(meta.Record.Params, e.now().Unix())
	if err != nil {
		return nil, err
	}
	e.emit(newRequestedEvent(def, rec))
	return rec, nil
}

// executeAndFinalize invokes the operation handler and moves the record to
// its terminal status. A handler error marks the record FAILED: the
// authorization is consumed and a fresh request is required, matching the
// no-retry contract.
func (e *Engine) executeAndFinalize(def *OperationDefinition, rec *txrecord.TxRecord, entryPoint string) (*txrecord.TxRecord, error) {
	handler := e.handlers[def.ID]
	var result []byte
	var execErr error
	if handler != nil {
		result, execErr = handler(rec.Clone())
	}
	if execErr != nil {
		failed, err := e.records.Finalize(rec.TxID, txrecord.StatusFailed, []byte(execErr.Error()))
		if err != nil {
			return nil, err
		}
		e.emit(newFailedEvent(def, failed, execErr))
		e.metrics.ObserveTransition(def.Name, entryPoint, "failed")
		return failed, fmt.Errorf("%w: %v", ErrExecutionFailed, execErr)
	}
	completed, err := e.records.Finalize(rec.TxID, txrecord.StatusCompleted, result)
	if err != nil {
		return nil, err
	}
	e.emit(newCompletedEvent(def, completed))
	e.metrics.ObserveTransition(def.Name, entryPoint, "completed")
	return completed, nil
}

// --- signing helpers ---

// BuildMetaParams assembles the signing envelope for an operation, stamping
// the engine address, chain id, and the signer's current nonce.
func (e *Engine) BuildMetaParams(opID OperationID, action roles.Action, deadlineOffset time.Duration, maxGasPrice *big.Int, signer [20]byte) (metatx.Params, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, err := e.definition(opID)
	if err != nil {
		return metatx.Params{}, err
	}
	return e.codec.BuildParams(e.address, def.Selector, action, deadlineOffset, maxGasPrice, signer)
}

// ProposedRecord builds the unsaved record a signer covers when signing a
// meta request for a new operation.
func (e *Engine) ProposedRecord(signer [20]byte, req RequestParams) (*txrecord.TxRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, err := e.definition(req.OperationType)
	if err != nil {
		return nil, err
	}
	value := big.NewInt(0)
	if req.Value != nil {
		value = new(big.Int).Set(req.Value)
	}
	return &txrecord.TxRecord{
		Status: txrecord.StatusUndefined,
		Params: txrecord.TxParams{
			Requester:        signer,
			Target:           req.Target,
			Value:            value,
			GasLimit:         req.GasLimit,
			OperationType:    [32]byte(def.ID),
			ExecutionType:    req.ExecutionType,
			ExecutionOptions: req.ExecutionOptions,
		},
	}, nil
}

// --- role management surface ---

// CreateRole registers an editable role through the engine-owned registry.
func (e *Engine) CreateRole(name string, maxMembers uint64, grants []roles.PermissionGrant) (roles.RoleID, error) {
	return e.roles.CreateRole(name, maxMembers, grants)
}

// AddRoleMember adds an identity to an editable role.
func (e *Engine) AddRoleMember(id roles.RoleID, identity [20]byte) error {
	return e.roles.AddMember(id, identity)
}

// RemoveRoleMember removes an identity from an editable role.
func (e *Engine) RemoveRoleMember(id roles.RoleID, identity [20]byte) error {
	return e.roles.RemoveMember(id, identity)
}

// GrantFunctionPermission adds actions to a role's grant on a selector.
func (e *Engine) GrantFunctionPermission(id roles.RoleID, selector roles.Selector, actions ...roles.Action) error {
	return e.roles.GrantFunctionPermission(id, selector, actions...)
}

// RevokeFunctionPermission removes actions from a role's grant on a selector.
func (e *Engine) RevokeFunctionPermission(id roles.RoleID, selector roles.Selector, actions ...roles.Action) error {
	return e.roles.RevokeFunctionPermission(id, selector, actions...)
}

// DisableRoleEditing flips the one-way switch freezing the entire permission
// surface for this engine instance.
func (e *Engine) DisableRoleEditing() {
	e.roles.DisableEditing()
}

// --- read surface ---

// GetTransaction returns the record with the given identifier.
func (e *Engine) GetTransaction(txID uint64) (*txrecord.TxRecord, error) {
	return e.records.Get(txID)
}

// ListPendingTransactions returns every record awaiting a terminal
// transition.
func (e *Engine) ListPendingTransactions() []*txrecord.TxRecord {
	return e.records.ListPending()
}

// ListTransactionRange returns the records with identifiers in [from, to].
func (e *Engine) ListTransactionRange(from, to uint64) []*txrecord.TxRecord {
	return e.records.ListRange(from, to)
}

// SignerNonce returns the next nonce expected from the signer.
func (e *Engine) SignerNonce(signer [20]byte) uint64 {
	return e.nonces.NextNonce(signer)
}

// TimelockPeriod returns the currently configured timelock.
func (e *Engine) TimelockPeriod() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timelock
}

// ChainID returns the chain identifier signed payloads are bound to.
func (e *Engine) ChainID() uint64 {
	return e.codec.ChainID()
}

// EngineAddress returns the deployment identity stamped into signed payloads.
func (e *Engine) EngineAddress() [20]byte {
	return e.address
}

// GetRole returns the role definition for the identifier.
func (e *Engine) GetRole(id roles.RoleID) (*roles.Role, bool) {
	return e.roles.GetRole(id)
}

// GetRoleByName resolves a role by name.
func (e *Engine) GetRoleByName(name string) (*roles.Role, bool) {
	return e.roles.GetRoleByName(name)
}

// ListRoles returns every role definition.
func (e *Engine) ListRoles() []*roles.Role {
	return e.roles.ListRoles()
}

// HasRole reports whether the identity belongs to the role.
func (e *Engine) HasRole(id roles.RoleID, identity [20]byte) bool {
	return e.roles.HasRole(id, identity)
}

// OperationTypes returns the registered operation definitions, sorted by
// name.
func (e *Engine) OperationTypes() []*OperationDefinition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*OperationDefinition, 0, len(e.ops))
	for _, def := range e.ops {
		clone := *def
		clone.Grants = append([]RoleGrant(nil), def.Grants...)
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Owner returns the identity currently holding the owner role.
func (e *Engine) Owner() [20]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

// Broadcaster returns the identity currently holding the broadcaster role.
func (e *Engine) Broadcaster() [20]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.broadcaster
}

// Recovery returns the identity currently holding the recovery role.
func (e *Engine) Recovery() [20]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recovery
}
