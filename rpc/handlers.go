package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"guardian/crypto"
	"guardian/native/roles"
	"guardian/native/secureop"
	"guardian/native/txrecord"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func encodeIdentity(raw [20]byte) string {
	return crypto.MustNewAddress(crypto.GuardianPrefix, raw[:]).String()
}

func decodeIdentity(encoded string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(encoded)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

type transactionView struct {
	TxID             uint64 `json:"txId"`
	Status           string `json:"status"`
	ReleaseTime      int64  `json:"releaseTime"`
	Requester        string `json:"requester"`
	Target           string `json:"target"`
	Value            string `json:"value"`
	GasLimit         uint64 `json:"gasLimit"`
	OperationType    string `json:"operationType"`
	ExecutionType    string `json:"executionType"`
	ExecutionOptions string `json:"executionOptions,omitempty"`
	Result           string `json:"result,omitempty"`
}

func newTransactionView(rec *txrecord.TxRecord) transactionView {
	view := transactionView{
		TxID:          rec.TxID,
		Status:        rec.Status.String(),
		ReleaseTime:   rec.ReleaseTime,
		Requester:     encodeIdentity(rec.Params.Requester),
		Target:        encodeIdentity(rec.Params.Target),
		Value:         "0",
		GasLimit:      rec.Params.GasLimit,
		OperationType: hex.EncodeToString(rec.Params.OperationType[:]),
		ExecutionType: rec.Params.ExecutionType.String(),
	}
	if rec.Params.Value != nil {
		view.Value = rec.Params.Value.String()
	}
	if len(rec.Params.ExecutionOptions) > 0 {
		view.ExecutionOptions = hex.EncodeToString(rec.Params.ExecutionOptions)
	}
	if len(rec.Result) > 0 {
		view.Result = hex.EncodeToString(rec.Result)
	}
	return view
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"chainId":         s.engine.ChainID(),
		"timelockSeconds": uint64(s.engine.TimelockPeriod().Seconds()),
		"owner":           encodeIdentity(s.engine.Owner()),
		"broadcaster":     encodeIdentity(s.engine.Broadcaster()),
		"recovery":        encodeIdentity(s.engine.Recovery()),
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.engine.GetTransaction(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, txrecord.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionView(rec))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	from, err := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := strconv.ParseUint(r.URL.Query().Get("to"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	records := s.engine.ListTransactionRange(from, to)
	views := make([]transactionView, 0, len(records))
	for _, rec := range records {
		views = append(views, newTransactionView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleListPending(w http.ResponseWriter, _ *http.Request) {
	records := s.engine.ListPendingTransactions()
	views := make([]transactionView, 0, len(records))
	for _, rec := range records {
		views = append(views, newTransactionView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

type roleView struct {
	Name       string   `json:"name"`
	RoleID     string   `json:"roleId"`
	MaxMembers uint64   `json:"maxMembers"`
	Protected  bool     `json:"protected"`
	Members    []string `json:"members"`
}

func newRoleView(role *roles.Role) roleView {
	members := role.Members()
	encoded := make([]string, 0, len(members))
	for _, member := range members {
		encoded = append(encoded, encodeIdentity(member))
	}
	return roleView{
		Name:       role.Name,
		RoleID:     hex.EncodeToString(role.ID[:]),
		MaxMembers: role.MaxMembers,
		Protected:  role.Protected,
		Members:    encoded,
	}
}

func (s *Server) handleListRoles(w http.ResponseWriter, _ *http.Request) {
	list := s.engine.ListRoles()
	views := make([]roleView, 0, len(list))
	for _, role := range list {
		views = append(views, newRoleView(role))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, ok := s.engine.GetRoleByName(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, roles.ErrRoleNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newRoleView(role))
}

func (s *Server) handleRoleMembership(w http.ResponseWriter, r *http.Request) {
	role, ok := s.engine.GetRoleByName(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, roles.ErrRoleNotFound)
		return
	}
	identity, err := decodeIdentity(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"member": s.engine.HasRole(role.ID, identity)})
}

type operationView struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	Workflow string `json:"workflow"`
	Selector string `json:"selector"`
}

func (s *Server) handleListOperations(w http.ResponseWriter, _ *http.Request) {
	defs := s.engine.OperationTypes()
	views := make([]operationView, 0, len(defs))
	for _, def := range defs {
		views = append(views, operationView{
			Name:     def.Name,
			ID:       hex.EncodeToString(def.ID[:]),
			Workflow: def.Workflow.String(),
			Selector: hex.EncodeToString(def.Selector[:]),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type workflowStepView struct {
	EntryPoint      string   `json:"entryPoint"`
	RequiredRoles   []string `json:"requiredRoles"`
	OffChainSigning bool     `json:"offChainSigning"`
	Phase           string   `json:"phase"`
}

type workflowPathView struct {
	Name  string             `json:"name"`
	Steps []workflowStepView `json:"steps"`
}

func (s *Server) handleWorkflowPaths(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	paths, err := s.engine.WorkflowPaths(secureop.DeriveOperationID(name))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, secureop.ErrUnknownOperation) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	views := make([]workflowPathView, 0, len(paths))
	for _, path := range paths {
		steps := make([]workflowStepView, 0, len(path.Steps))
		for _, step := range path.Steps {
			steps = append(steps, workflowStepView{
				EntryPoint:      step.EntryPointName,
				RequiredRoles:   step.RequiredRoles,
				OffChainSigning: step.OffChainSigning,
				Phase:           string(step.Phase),
			})
		}
		views = append(views, workflowPathView{Name: path.Name, Steps: steps})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSignerNonce(w http.ResponseWriter, r *http.Request) {
	identity, err := decodeIdentity(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"nonce": s.engine.SignerNonce(identity)})
}
