// Package handler exposes the integrity verifier over HTTP. All routes
// require an operator token.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chronoseal/internal/verify"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/platform/httputil"
	"chronoseal/pkg/requestcontext"
)

const dateLayout = "2006-01-02"

// Service defines the interface for verification operations.
type Service interface {
	VerifyDaily(ctx context.Context, companyID uuid.UUID, date time.Time) (*verify.Report, error)
}

// VerifyDailyRequest is the HTTP request body for POST /verify/daily.
type VerifyDailyRequest struct {
	CompanyID string `json:"company_id"`
	Date      string `json:"date"`

	parsedCompanyID uuid.UUID
	parsedDate      time.Time
}

// Validate validates and parses the request.
func (r *VerifyDailyRequest) Validate() error {
	companyID, err := uuid.Parse(r.CompanyID)
	if err != nil {
		return derrors.New(derrors.CodeValidation, "company_id must be a UUID")
	}
	r.parsedCompanyID = companyID

	date, err := time.Parse(dateLayout, r.Date)
	if err != nil {
		return derrors.New(derrors.CodeValidation, "date must be YYYY-MM-DD")
	}
	r.parsedDate = date
	return nil
}

// Handler wires verification endpoints to the verify service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a verify handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verify/daily", h.HandleVerifyDaily)
}

// HandleVerifyDaily handles POST /verify/daily requests.
func (h *Handler) HandleVerifyDaily(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, err := httputil.Decode[VerifyDailyRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	report, err := h.service.VerifyDaily(ctx, req.parsedCompanyID, req.parsedDate)
	if err != nil {
		if !derrors.HasCode(err, derrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "verification failed",
				"request_id", requestID,
				"company_id", req.CompanyID,
				"date", req.Date,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "daily verification completed",
		"request_id", requestID,
		"company_id", req.CompanyID,
		"date", req.Date,
		"valid", report.Valid,
		"operator_id", requestcontext.OperatorID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, report)
}
