// Package handler exposes the notarization client over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chronoseal/internal/notary"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/platform/httputil"
	"chronoseal/pkg/requestcontext"
)

// Service defines the interface for notarization operations.
type Service interface {
	Create(ctx context.Context, req notary.CreateRequest) (*notary.Evidence, error)
	Get(ctx context.Context, id uuid.UUID) (*notary.Evidence, error)
	Seal(ctx context.Context, id uuid.UUID) (*notary.Evidence, error)
	Requeue(ctx context.Context, id uuid.UUID, actorID string) (*notary.Evidence, error)
	ListGroup(ctx context.Context, groupID uuid.UUID) ([]notary.Evidence, error)
}

// CreateEvidenceRequest is the HTTP request body for POST /evidence.
type CreateEvidenceRequest struct {
	CompanyID      string `json:"company_id"`
	Type           string `json:"type"`
	DailyRootID    string `json:"daily_root_id,omitempty"`
	LedgerEntryID  string `json:"ledger_entry_id,omitempty"`
	ArtifactPath   string `json:"artifact_path,omitempty"`
	ArtifactSHA256 string `json:"artifact_sha256,omitempty"`

	parsed notary.CreateRequest
}

// Validate validates and parses the request. Type-specific reference rules
// are enforced by the service.
func (r *CreateEvidenceRequest) Validate() error {
	companyID, err := uuid.Parse(r.CompanyID)
	if err != nil {
		return derrors.New(derrors.CodeValidation, "company_id must be a UUID")
	}
	r.parsed = notary.CreateRequest{
		CompanyID:      companyID,
		Type:           notary.EvidenceType(r.Type),
		ArtifactPath:   strings.TrimSpace(r.ArtifactPath),
		ArtifactSHA256: strings.ToLower(strings.TrimSpace(r.ArtifactSHA256)),
	}
	if r.DailyRootID != "" {
		rootID, err := uuid.Parse(r.DailyRootID)
		if err != nil {
			return derrors.New(derrors.CodeValidation, "daily_root_id must be a UUID")
		}
		r.parsed.DailyRootID = &rootID
	}
	if r.LedgerEntryID != "" {
		entryID, err := uuid.Parse(r.LedgerEntryID)
		if err != nil {
			return derrors.New(derrors.CodeValidation, "ledger_entry_id must be a UUID")
		}
		r.parsed.LedgerEntryID = &entryID
	}
	return nil
}

// EvidenceResponse is the HTTP shape of one sealing request.
type EvidenceResponse struct {
	ID             uuid.UUID  `json:"id"`
	CompanyID      uuid.UUID  `json:"company_id"`
	GroupID        uuid.UUID  `json:"group_id"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	DailyRootID    *uuid.UUID `json:"daily_root_id,omitempty"`
	LedgerEntryID  *uuid.UUID `json:"ledger_entry_id,omitempty"`
	ArtifactPath   string     `json:"artifact_path,omitempty"`
	ArtifactSHA256 string     `json:"artifact_sha256,omitempty"`
	RetryCount     int        `json:"retry_count"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	SealedAt       *time.Time `json:"sealed_at,omitempty"`
	TSPToken       string     `json:"tsp_token,omitempty"`
	SerialNumber   string     `json:"serial_number,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ListGroupResponse is the HTTP response for GET /evidence/groups/{groupID}.
type ListGroupResponse struct {
	Evidences []EvidenceResponse `json:"evidences"`
}

func fromEvidence(evidence *notary.Evidence) EvidenceResponse {
	return EvidenceResponse{
		ID:             evidence.ID,
		CompanyID:      evidence.CompanyID,
		GroupID:        evidence.GroupID,
		Type:           string(evidence.Type),
		Status:         string(evidence.Status),
		DailyRootID:    evidence.DailyRootID,
		LedgerEntryID:  evidence.LedgerEntryID,
		ArtifactPath:   evidence.ArtifactPath,
		ArtifactSHA256: evidence.ArtifactSHA256,
		RetryCount:     evidence.RetryCount,
		NextRetryAt:    evidence.NextRetryAt,
		ErrorMessage:   evidence.ErrorMessage,
		SealedAt:       evidence.SealedAt,
		TSPToken:       evidence.TSPToken,
		SerialNumber:   evidence.SerialNumber,
		CreatedAt:      evidence.CreatedAt,
		UpdatedAt:      evidence.UpdatedAt,
	}
}

// Handler wires evidence endpoints to the notarization service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a notary handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the evidence endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/evidence", h.HandleCreate)
	r.Get("/evidence/{evidenceID}", h.HandleGet)
	r.Post("/evidence/{evidenceID}/seal", h.HandleSeal)
	r.Get("/evidence/groups/{groupID}", h.HandleListGroup)
}

// RegisterOperator mounts the endpoints that require an operator token. The
// router applies the auth middleware to this group.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Post("/evidence/{evidenceID}/requeue", h.HandleRequeue)
}

// HandleCreate handles POST /evidence requests.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, err := httputil.Decode[CreateEvidenceRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	evidence, err := h.service.Create(ctx, req.parsed)
	if err != nil {
		if !derrors.HasCode(err, derrors.CodeValidation) && !derrors.HasCode(err, derrors.CodeConflict) {
			h.logger.ErrorContext(ctx, "failed to create evidence",
				"request_id", requestID,
				"company_id", req.CompanyID,
				"type", req.Type,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromEvidence(evidence))
}

// HandleGet handles GET /evidence/{evidenceID} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	evidenceID, err := uuid.Parse(chi.URLParam(r, "evidenceID"))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeValidation, "evidence id must be a UUID"))
		return
	}

	evidence, err := h.service.Get(ctx, evidenceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromEvidence(evidence))
}

// HandleSeal handles POST /evidence/{evidenceID}/seal requests.
func (h *Handler) HandleSeal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	evidenceID, err := uuid.Parse(chi.URLParam(r, "evidenceID"))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeValidation, "evidence id must be a UUID"))
		return
	}

	evidence, err := h.service.Seal(ctx, evidenceID)
	if err != nil {
		h.logger.WarnContext(ctx, "seal attempt failed",
			"request_id", requestID,
			"evidence_id", evidenceID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "evidence sealed",
		"request_id", requestID,
		"evidence_id", evidenceID,
		"serial_number", evidence.SerialNumber,
	)
	httputil.WriteJSON(w, http.StatusOK, fromEvidence(evidence))
}

// HandleRequeue handles POST /evidence/{evidenceID}/requeue requests.
func (h *Handler) HandleRequeue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	evidenceID, err := uuid.Parse(chi.URLParam(r, "evidenceID"))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeValidation, "evidence id must be a UUID"))
		return
	}

	operatorID := requestcontext.OperatorID(ctx)
	evidence, err := h.service.Requeue(ctx, evidenceID, operatorID)
	if err != nil {
		h.logger.WarnContext(ctx, "requeue failed",
			"request_id", requestID,
			"evidence_id", evidenceID,
			"operator_id", operatorID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "evidence requeued",
		"request_id", requestID,
		"evidence_id", evidenceID,
		"operator_id", operatorID,
	)
	httputil.WriteJSON(w, http.StatusOK, fromEvidence(evidence))
}

// HandleListGroup handles GET /evidence/groups/{groupID} requests.
func (h *Handler) HandleListGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeValidation, "group id must be a UUID"))
		return
	}

	evidences, err := h.service.ListGroup(ctx, groupID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := ListGroupResponse{Evidences: make([]EvidenceResponse, 0, len(evidences))}
	for i := range evidences {
		resp.Evidences = append(resp.Evidences, fromEvidence(&evidences[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
