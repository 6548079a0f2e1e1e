// Package handler exposes the hash chain recorder over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chronoseal/internal/chain"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/platform/httputil"
	"chronoseal/pkg/requestcontext"
)

// Service defines the interface for chain operations.
type Service interface {
	Append(ctx context.Context, req chain.AppendRequest) (*chain.AppendResult, error)
	ListBySubject(ctx context.Context, subjectID string) ([]chain.ChainedEvent, error)
}

// Handler wires clock event endpoints to the chain service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a chain handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts clock event endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/clock/events", h.HandleAppend)
	r.Get("/clock/subjects/{subjectID}/events", h.HandleListBySubject)
}

// HandleAppend handles POST /clock/events requests.
func (h *Handler) HandleAppend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, err := httputil.Decode[AppendEventRequest](r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid append request",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Append(ctx, req.ToAppend())
	if err != nil {
		if derrors.HasCode(err, derrors.CodeChainConflict) {
			h.logger.WarnContext(ctx, "chain conflict on append",
				"request_id", requestID,
				"subject_id", req.SubjectID,
			)
		} else {
			h.logger.ErrorContext(ctx, "failed to append clock event",
				"request_id", requestID,
				"subject_id", req.SubjectID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, AppendEventResponse{
		Event:    fromEvent(result.Event),
		Replayed: result.Replayed,
	})
}

// HandleListBySubject handles GET /clock/subjects/{subjectID}/events requests.
func (h *Handler) HandleListBySubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subjectID := chi.URLParam(r, "subjectID")
	if subjectID == "" {
		httputil.WriteError(w, derrors.New(derrors.CodeValidation, "subject_id is required"))
		return
	}

	events, err := h.service.ListBySubject(ctx, subjectID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list subject events",
			"request_id", requestcontext.RequestID(ctx),
			"subject_id", subjectID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := ListEventsResponse{Events: make([]EventResponse, 0, len(events))}
	for _, event := range events {
		resp.Events = append(resp.Events, fromEvent(event))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
