// Package handler exposes the evidence ledger over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chronoseal/internal/ledger"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/platform/httputil"
	"chronoseal/pkg/requestcontext"
)

// Service defines the interface for ledger operations.
type Service interface {
	RecordEvidence(ctx context.Context, req ledger.RecordRequest) (*ledger.Entry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*ledger.Entry, error)
	ListThread(ctx context.Context, threadID uuid.UUID) ([]ledger.Entry, error)
	ValidateChain(ctx context.Context, threadID uuid.UUID) (*ledger.ChainReport, error)
}

// RecordEntryRequest is the HTTP request body for POST /ledger/entries.
type RecordEntryRequest struct {
	CompanyID      string           `json:"company_id"`
	ThreadID       string           `json:"thread_id"`
	RecipientID    string           `json:"recipient_id"`
	EventType      string           `json:"event_type"`
	EventTimestamp string           `json:"event_timestamp,omitempty"`
	EventData      ledger.EventData `json:"event_data,omitzero"`

	parsedCompanyID uuid.UUID
	parsedThreadID  uuid.UUID
	parsedTimestamp time.Time
}

// Validate validates and parses the request. Event-type specific payload
// rules are enforced by the service.
func (r *RecordEntryRequest) Validate() error {
	companyID, err := uuid.Parse(r.CompanyID)
	if err != nil {
		return derrors.New(derrors.CodeValidation, "company_id must be a UUID")
	}
	r.parsedCompanyID = companyID

	threadID, err := uuid.Parse(r.ThreadID)
	if err != nil {
		return derrors.New(derrors.CodeValidation, "thread_id must be a UUID")
	}
	r.parsedThreadID = threadID

	if r.EventTimestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, r.EventTimestamp)
		if err != nil {
			return derrors.New(derrors.CodeValidation, "event_timestamp must be RFC 3339")
		}
		r.parsedTimestamp = ts
	}
	return nil
}

// EntryResponse is the HTTP shape of one ledger entry.
type EntryResponse struct {
	ID             uuid.UUID        `json:"id"`
	CompanyID      uuid.UUID        `json:"company_id"`
	ThreadID       uuid.UUID        `json:"thread_id"`
	RecipientID    string           `json:"recipient_id"`
	EventType      string           `json:"event_type"`
	EventTimestamp time.Time        `json:"event_timestamp"`
	EventData      ledger.EventData `json:"event_data,omitzero"`
	ContentHash    string           `json:"content_hash"`
	PreviousHash   string           `json:"previous_hash,omitempty"`
	QTSPTimestamp  *time.Time       `json:"qtsp_timestamp,omitempty"`
	QTSPToken      string           `json:"qtsp_token,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ListEntriesResponse is the HTTP response for GET /ledger/threads/{threadID}.
type ListEntriesResponse struct {
	Entries []EntryResponse `json:"entries"`
}

func fromEntry(entry ledger.Entry) EntryResponse {
	return EntryResponse{
		ID:             entry.ID,
		CompanyID:      entry.CompanyID,
		ThreadID:       entry.ThreadID,
		RecipientID:    entry.RecipientID,
		EventType:      string(entry.EventType),
		EventTimestamp: entry.EventTimestamp,
		EventData:      entry.EventData,
		ContentHash:    entry.ContentHash,
		PreviousHash:   entry.PreviousHash,
		QTSPTimestamp:  entry.QTSPTimestamp,
		QTSPToken:      entry.QTSPToken,
		CreatedAt:      entry.CreatedAt,
	}
}

// Handler wires ledger endpoints to the ledger service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a ledger handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts ledger endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/ledger/entries", h.HandleRecord)
	r.Get("/ledger/entries/{entryID}", h.HandleGetEntry)
	r.Get("/ledger/threads/{threadID}", h.HandleListThread)
	r.Get("/ledger/threads/{threadID}/verify", h.HandleVerifyThread)
}

// HandleRecord handles POST /ledger/entries requests.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, err := httputil.Decode[RecordEntryRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	entry, err := h.service.RecordEvidence(ctx, ledger.RecordRequest{
		CompanyID:      req.parsedCompanyID,
		ThreadID:       req.parsedThreadID,
		RecipientID:    req.RecipientID,
		EventType:      ledger.EventType(req.EventType),
		EventTimestamp: req.parsedTimestamp,
		EventData:      req.EventData,
	})
	if err != nil {
		if derrors.HasCode(err, derrors.CodeChainConflict) {
			h.logger.WarnContext(ctx, "chain conflict on ledger append",
				"request_id", requestID,
				"thread_id", req.ThreadID,
			)
		} else if !derrors.HasCode(err, derrors.CodeValidation) {
			h.logger.ErrorContext(ctx, "failed to record evidence",
				"request_id", requestID,
				"thread_id", req.ThreadID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromEntry(*entry))
}

// HandleGetEntry handles GET /ledger/entries/{entryID} requests.
func (h *Handler) HandleGetEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entryID, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeValidation, "entry id must be a UUID"))
		return
	}

	entry, err := h.service.GetEntry(ctx, entryID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromEntry(*entry))
}

// HandleListThread handles GET /ledger/threads/{threadID} requests.
func (h *Handler) HandleListThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	threadID, err := uuid.Parse(chi.URLParam(r, "threadID"))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeValidation, "thread id must be a UUID"))
		return
	}

	entries, err := h.service.ListThread(ctx, threadID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list thread",
			"request_id", requestcontext.RequestID(ctx),
			"thread_id", threadID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := ListEntriesResponse{Entries: make([]EntryResponse, 0, len(entries))}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, fromEntry(entry))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleVerifyThread handles GET /ledger/threads/{threadID}/verify requests.
func (h *Handler) HandleVerifyThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	threadID, err := uuid.Parse(chi.URLParam(r, "threadID"))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeValidation, "thread id must be a UUID"))
		return
	}

	report, err := h.service.ValidateChain(ctx, threadID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to validate thread chain",
			"request_id", requestcontext.RequestID(ctx),
			"thread_id", threadID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
