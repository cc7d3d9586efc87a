// Package httpapi mounts the thin internal seam that the (out-of-scope)
// caller-facing HTTP surface talks through: request/response schemas, role
// checks, and rate-limit middleware belong to that external layer, not
// here. These handlers exist only so the Session Broker, Mass-Marking
// Engine, and Bot Bridge are reachable from a running process.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/errmap"
)

// selfApprover is the narrow slice of the Session Broker façade this seam
// drives directly.
type selfApprover interface {
	GetIdentity(ctx context.Context, userID domain.UserID) (string, error)
	FetchSchedule(ctx context.Context, userID domain.UserID) ([]byte, error)
}

// markingEngine is the narrow slice of the Mass-Marking Engine this seam
// drives.
type markingEngine interface {
	Start(ctx context.Context, owner domain.UserID, token domain.SecretString, targets []domain.UserID) (domain.MarkingSessionID, string, error)
	Continue(ctx context.Context, id domain.MarkingSessionID, ownerToken, newToken string) error
}

// botBridge is the narrow slice of the Bot Bridge this seam drives.
type botBridge interface {
	HandleCode(ctx context.Context, userID domain.UserID, code string) error
	HandleAuthenticatorExport(ctx context.Context, userID domain.UserID, qrText string) error
}

// Handlers wires the broker's core operations onto a *http.ServeMux. It is
// the entire surface cmd/broker exposes directly; everything else (auth,
// schemas, rate limiting) is the external caller layer's job.
type Handlers struct {
	broker selfApprover
	engine markingEngine
	bridge botBridge
	logger *slog.Logger
}

// New creates a Handlers bound to broker, engine, and bridge.
func New(broker selfApprover, engine markingEngine, bridge botBridge, logger *slog.Logger) *Handlers {
	return &Handlers{broker: broker, engine: engine, bridge: bridge, logger: logger}
}

// Register mounts every handler onto mux under /internal/v1.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /internal/v1/identity", h.handleIdentity)
	mux.HandleFunc("POST /internal/v1/schedule", h.handleSchedule)
	mux.HandleFunc("POST /internal/v1/marking/start", h.handleMarkingStart)
	mux.HandleFunc("POST /internal/v1/marking/continue", h.handleMarkingContinue)
	mux.HandleFunc("POST /internal/v1/bot/code", h.handleBotCode)
	mux.HandleFunc("POST /internal/v1/bot/export", h.handleBotExport)
}

type identityRequest struct {
	UserID domain.UserID `json:"user_id"`
}

type identityResponse struct {
	Name string `json:"name"`
}

func (h *Handlers) handleIdentity(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if !h.decode(w, r, &req) {
		return
	}
	name, err := h.broker.GetIdentity(r.Context(), req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, identityResponse{Name: name})
}

func (h *Handlers) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if !h.decode(w, r, &req) {
		return
	}
	body, err := h.broker.FetchSchedule(r.Context(), req.UserID)
	h.respondBlob(w, r, body, err)
}

type markingStartRequest struct {
	OwnerID domain.UserID   `json:"owner_id"`
	Token   string          `json:"token"`
	Targets []domain.UserID `json:"targets"`
}

type markingStartResponse struct {
	SessionID string `json:"session_id"`
	OwnerJTI  string `json:"owner_jti"`
}

func (h *Handlers) handleMarkingStart(w http.ResponseWriter, r *http.Request) {
	var req markingStartRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, jti, err := h.engine.Start(r.Context(), req.OwnerID, domain.SecretString(req.Token), req.Targets)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, markingStartResponse{SessionID: id.String(), OwnerJTI: jti})
}

type markingContinueRequest struct {
	SessionID  string `json:"session_id"`
	OwnerToken string `json:"owner_token"`
	NewToken   string `json:"new_token"`
}

func (h *Handlers) handleMarkingContinue(w http.ResponseWriter, r *http.Request) {
	var req markingContinueRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := domain.NewMarkingSessionID(req.SessionID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	err = h.engine.Continue(r.Context(), id, req.OwnerToken, req.NewToken)
	h.respondBlob(w, r, nil, err)
}

type botCodeRequest struct {
	UserID domain.UserID `json:"user_id"`
	Code   string        `json:"code"`
}

func (h *Handlers) handleBotCode(w http.ResponseWriter, r *http.Request) {
	var req botCodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.bridge.HandleCode(r.Context(), req.UserID, req.Code)
	h.respondBlob(w, r, nil, err)
}

type botExportRequest struct {
	UserID domain.UserID `json:"user_id"`
	QRText string        `json:"qr_text"`
}

func (h *Handlers) handleBotExport(w http.ResponseWriter, r *http.Request) {
	var req botExportRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.bridge.HandleAuthenticatorExport(r.Context(), req.UserID, req.QRText)
	h.respondBlob(w, r, nil, err)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handlers) respondBlob(w http.ResponseWriter, r *http.Request, body []byte, err error) {
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if body == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(body)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

// respondError maps an internal error to a plain status code through
// errmap's status mapping. The machine-readable error codes are for the
// external caller layer; this seam only needs enough fidelity to avoid
// masking every failure as a 500.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "internal seam call failed", slog.String("error", err.Error()))
	http.Error(w, err.Error(), errmap.ToHTTPStatusCode(err))
}
