// Package handler exposes daily root building and retrieval over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chronoseal/internal/merkle"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/platform/httputil"
	"chronoseal/pkg/requestcontext"
)

// dateLayout is the wire format for calendar days.
const dateLayout = "2006-01-02"

// Service defines the interface for daily root operations.
type Service interface {
	BuildRoot(ctx context.Context, companyID uuid.UUID, date time.Time) (*merkle.DailyRoot, error)
	GetRoot(ctx context.Context, companyID uuid.UUID, date time.Time) (*merkle.DailyRoot, error)
}

// BuildRootRequest is the HTTP request body for POST /roots/build.
type BuildRootRequest struct {
	CompanyID string `json:"company_id"`
	Date      string `json:"date"`

	parsedCompanyID uuid.UUID
	parsedDate      time.Time
}

// Validate validates and parses the request.
func (r *BuildRootRequest) Validate() error {
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

// RootResponse is the HTTP shape of one daily root.
type RootResponse struct {
	ID          uuid.UUID `json:"id"`
	CompanyID   uuid.UUID `json:"company_id"`
	Date        string    `json:"date"`
	RootHash    string    `json:"root_hash"`
	EventCount  int       `json:"event_count"`
	BuiltAt     time.Time `json:"built_at"`
	Provisional bool      `json:"provisional"`
}

func fromRoot(root *merkle.DailyRoot) RootResponse {
	return RootResponse{
		ID:          root.ID,
		CompanyID:   root.CompanyID,
		Date:        root.Date.Format(dateLayout),
		RootHash:    root.RootHash,
		EventCount:  root.EventCount,
		BuiltAt:     root.BuiltAt,
		Provisional: root.Provisional,
	}
}

// Handler wires daily root endpoints to the root builder.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a merkle handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts daily root endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/roots/build", h.HandleBuild)
	r.Get("/roots/{companyID}/{date}", h.HandleGet)
}

// HandleBuild handles POST /roots/build requests.
func (h *Handler) HandleBuild(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, err := httputil.Decode[BuildRootRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	root, err := h.service.BuildRoot(ctx, req.parsedCompanyID, req.parsedDate)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to build daily root",
			"request_id", requestID,
			"company_id", req.CompanyID,
			"date", req.Date,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "daily root built",
		"request_id", requestID,
		"company_id", req.CompanyID,
		"date", req.Date,
		"event_count", root.EventCount,
		"provisional", root.Provisional,
	)
	httputil.WriteJSON(w, http.StatusOK, fromRoot(root))
}

// HandleGet handles GET /roots/{companyID}/{date} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	companyID, err := uuid.Parse(chi.URLParam(r, "companyID"))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeValidation, "company_id must be a UUID"))
		return
	}
	date, err := time.Parse(dateLayout, chi.URLParam(r, "date"))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeValidation, "date must be YYYY-MM-DD"))
		return
	}

	root, err := h.service.GetRoot(ctx, companyID, date)
	if err != nil {
		if !derrors.HasCode(err, derrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "failed to get daily root",
				"request_id", requestcontext.RequestID(ctx),
				"company_id", companyID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromRoot(root))
}
