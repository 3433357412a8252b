package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/moltlabs/dispenser/pkg/audit"
	"github.com/moltlabs/dispenser/pkg/dispenser"
	"github.com/moltlabs/dispenser/pkg/metrics"

	"github.com/go-chi/chi/v5"
)

// errorResponse is the wire form of every rejection.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// stateView mirrors dispenser.State for JSON consumers.
type stateView struct {
	Mint             string   `json:"mint"`
	Vault            string   `json:"vault"`
	Authority        string   `json:"authority"`
	PendingAuthority *string  `json:"pending_authority"`
	Operators        []string `json:"operators"`
	TotalDistributed uint64   `json:"total_distributed"`
	TotalQueued      uint64   `json:"total_queued"`
	TotalCancelled   uint64   `json:"total_cancelled"`
}

func newStateView(s *dispenser.State) stateView {
	v := stateView{
		Mint:             s.Mint.String(),
		Vault:            s.Vault.String(),
		Authority:        s.Authority.String(),
		Operators:        make([]string, 0, len(s.Operators)),
		TotalDistributed: s.TotalDistributed,
		TotalQueued:      s.TotalQueued,
		TotalCancelled:   s.TotalCancelled,
	}
	if s.PendingAuthority != nil {
		pa := s.PendingAuthority.String()
		v.PendingAuthority = &pa
	}
	for _, op := range s.Operators {
		v.Operators = append(v.Operators, op.String())
	}
	return v
}

// distributionView mirrors dispenser.Distribution for JSON consumers.
type distributionView struct {
	ContributionID string     `json:"contribution_id"`
	Recipient      string     `json:"recipient"`
	Amount         uint64     `json:"amount"`
	Status         string     `json:"status"`
	QueuedAt       time.Time  `json:"queued_at"`
	DistributedAt  *time.Time `json:"distributed_at,omitempty"`
}

func newDistributionView(d *dispenser.Distribution) distributionView {
	return distributionView{
		ContributionID: d.ContributionID,
		Recipient:      d.Recipient.String(),
		Amount:         d.Amount,
		Status:         string(d.Status),
		QueuedAt:       d.QueuedAt,
		DistributedAt:  d.DistributedAt,
	}
}

// errorCode maps the engine's error taxonomy to stable wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, dispenser.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, dispenser.ErrTooManyOperators):
		return "too_many_operators"
	case errors.Is(err, dispenser.ErrCannotRemoveAuthority):
		return "cannot_remove_authority"
	case errors.Is(err, dispenser.ErrNoPendingTransfer):
		return "no_pending_transfer"
	case errors.Is(err, dispenser.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, dispenser.ErrInvalidContributionID):
		return "invalid_contribution_id"
	case errors.Is(err, dispenser.ErrOverflow):
		return "overflow"
	case errors.Is(err, dispenser.ErrAlreadyDistributed):
		return "already_distributed"
	case errors.Is(err, dispenser.ErrNotQueued):
		return "not_queued"
	case errors.Is(err, dispenser.ErrRecipientMismatch):
		return "recipient_mismatch"
	case errors.Is(err, dispenser.ErrVaultMismatch):
		return "vault_mismatch"
	case errors.Is(err, dispenser.ErrMintMismatch):
		return "mint_mismatch"
	case errors.Is(err, dispenser.ErrStateExists):
		return "state_exists"
	case errors.Is(err, dispenser.ErrStateNotFound):
		return "state_not_found"
	case errors.Is(err, dispenser.ErrDistributionExists):
		return "distribution_exists"
	case errors.Is(err, dispenser.ErrDistributionNotFound):
		return "distribution_not_found"
	default:
		return "internal"
	}
}

func statusForCode(code string) int {
	switch code {
	case "unauthorized":
		return http.StatusForbidden
	case "invalid_amount", "invalid_contribution_id",
		"vault_mismatch", "mint_mismatch", "recipient_mismatch":
		return http.StatusBadRequest
	case "too_many_operators", "cannot_remove_authority", "no_pending_transfer",
		"already_distributed", "not_queued", "overflow",
		"state_exists", "distribution_exists":
		return http.StatusConflict
	case "state_not_found", "distribution_not_found":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errorCode(err)
	status := statusForCode(code)
	if status == http.StatusInternalServerError {
		s.log.Error("server: instruction failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "bad_signature", Message: err.Error()})
}

// record emits an audit event and instruction metrics for one instruction
// outcome.
func (s *Server) record(r *http.Request, instruction string, caller solana.PublicKey, contributionID string, amount uint64, start time.Time, err error) {
	metrics.RecordInstruction(instruction, time.Since(start), err)

	event := audit.Event{
		ID:             uuid.New(),
		Time:           time.Now().UTC(),
		Instruction:    instruction,
		Caller:         caller.String(),
		ContributionID: contributionID,
		Amount:         amount,
		Outcome:        audit.OutcomeAccepted,
	}
	if err != nil {
		event.Outcome = audit.OutcomeRejected
		event.ErrorCode = errorCode(err)
	}
	s.audit.Record(r.Context(), event)
}

func parseKey(field, value string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, &fieldError{field: field, err: err}
	}
	return pk, nil
}

type fieldError struct {
	field string
	err   error
}

func (e *fieldError) Error() string {
	return "invalid " + e.field + ": " + e.err.Error()
}

func (s *Server) decodeBadRequest(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
}

func (s *Server) initializeHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller, body, err := readSignedBody(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	var req struct {
		Mint  string `json:"mint"`
		Vault string `json:"vault"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.decodeBadRequest(w, err)
		return
	}
	mint, err := parseKey("mint", req.Mint)
	if err != nil {
		s.decodeBadRequest(w, err)
		return
	}
	vault, err := parseKey("vault", req.Vault)
	if err != nil {
		s.decodeBadRequest(w, err)
		return
	}

	state, err := s.engine.Initialize(r.Context(), caller, mint, vault)
	s.record(r, "initialize", caller, "", 0, start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, newStateView(state))
}

func (s *Server) addOperatorHandler(w http.ResponseWriter, r *http.Request) {
	s.operatorMutationHandler(w, r, "add_operator", s.engine.AddOperator)
}

func (s *Server) removeOperatorHandler(w http.ResponseWriter, r *http.Request) {
	s.operatorMutationHandler(w, r, "remove_operator", s.engine.RemoveOperator)
}

func (s *Server) operatorMutationHandler(
	w http.ResponseWriter,
	r *http.Request,
	instruction string,
	fn func(ctx context.Context, caller, target solana.PublicKey) (*dispenser.State, error),
) {
	start := time.Now()
	caller, body, err := readSignedBody(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	var req struct {
		Operator string `json:"operator"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.decodeBadRequest(w, err)
		return
	}
	operator, err := parseKey("operator", req.Operator)
	if err != nil {
		s.decodeBadRequest(w, err)
		return
	}

	state, err := fn(r.Context(), caller, operator)
	s.record(r, instruction, caller, "", 0, start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newStateView(state))
}

func (s *Server) transferAuthorityHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller, body, err := readSignedBody(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	var req struct {
		NewAuthority string `json:"new_authority"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.decodeBadRequest(w, err)
		return
	}
	newAuthority, err := parseKey("new_authority", req.NewAuthority)
	if err != nil {
		s.decodeBadRequest(w, err)
		return
	}

	state, err := s.engine.TransferAuthority(r.Context(), caller, newAuthority)
	s.record(r, "transfer_authority", caller, "", 0, start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newStateView(state))
}

func (s *Server) acceptAuthorityHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller, _, err := readSignedBody(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	state, err := s.engine.AcceptAuthority(r.Context(), caller)
	s.record(r, "accept_authority", caller, "", 0, start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newStateView(state))
}

func (s *Server) cancelTransferHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller, _, err := readSignedBody(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	state, err := s.engine.CancelTransfer(r.Context(), caller)
	s.record(r, "cancel_transfer", caller, "", 0, start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newStateView(state))
}

func (s *Server) addRecipientHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller, body, err := readSignedBody(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	var req struct {
		ContributionID string `json:"contribution_id"`
		Recipient      string `json:"recipient"`
		Amount         uint64 `json:"amount"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.decodeBadRequest(w, err)
		return
	}
	recipient, err := parseKey("recipient", req.Recipient)
	if err != nil {
		s.decodeBadRequest(w, err)
		return
	}

	dist, err := s.engine.AddRecipient(r.Context(), caller, req.ContributionID, recipient, req.Amount)
	s.record(r, "add_recipient", caller, req.ContributionID, req.Amount, start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	metrics.TokensQueuedTotal.Add(float64(dist.Amount))
	s.writeJSON(w, http.StatusCreated, newDistributionView(dist))
}

func (s *Server) distributeHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller, body, err := readSignedBody(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	var req struct {
		ContributionID        string `json:"contribution_id"`
		Vault                 string `json:"vault"`
		RecipientTokenAccount string `json:"recipient_token_account"`
		Mint                  string `json:"mint"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.decodeBadRequest(w, err)
		return
	}
	vault, err := parseKey("vault", req.Vault)
	if err != nil {
		s.decodeBadRequest(w, err)
		return
	}
	recipientTokenAccount, err := parseKey("recipient_token_account", req.RecipientTokenAccount)
	if err != nil {
		s.decodeBadRequest(w, err)
		return
	}
	mint, err := parseKey("mint", req.Mint)
	if err != nil {
		s.decodeBadRequest(w, err)
		return
	}

	dist, err := s.engine.Distribute(r.Context(), caller, req.ContributionID, vault, recipientTokenAccount, mint)
	var amount uint64
	if dist != nil {
		amount = dist.Amount
	}
	s.record(r, "distribute", caller, req.ContributionID, amount, start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	metrics.TokensDistributedTotal.Add(float64(dist.Amount))
	s.writeJSON(w, http.StatusOK, newDistributionView(dist))
}

func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller, body, err := readSignedBody(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	var req struct {
		ContributionID string `json:"contribution_id"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.decodeBadRequest(w, err)
		return
	}

	dist, err := s.engine.Cancel(r.Context(), caller, req.ContributionID)
	var amount uint64
	if dist != nil {
		amount = dist.Amount
	}
	s.record(r, "cancel", caller, req.ContributionID, amount, start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	metrics.TokensCancelledTotal.Add(float64(dist.Amount))
	s.writeJSON(w, http.StatusOK, newDistributionView(dist))
}

func (s *Server) getStateHandler(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.State(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newStateView(state))
}

func (s *Server) getDistributionHandler(w http.ResponseWriter, r *http.Request) {
	dist, err := s.engine.Distribution(r.Context(), chi.URLParam(r, "contributionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newDistributionView(dist))
}

const defaultListLimit = 100

func (s *Server) listDistributionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			s.decodeBadRequest(w, errors.New("limit must be an integer between 1 and 1000"))
			return
		}
		limit = parsed
	}

	dists, err := s.engine.Distributions(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]distributionView, 0, len(dists))
	for _, d := range dists {
		views = append(views, newDistributionView(d))
	}
	s.writeJSON(w, http.StatusOK, views)
}
