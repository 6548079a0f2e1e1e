package handler

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/chain"
	derrors "chronoseal/pkg/domain-errors"
)

// AppendEventRequest is the HTTP request body for POST /clock/events.
type AppendEventRequest struct {
	CompanyID   string        `json:"company_id"`
	SubjectID   string        `json:"subject_id"`
	EventType   string        `json:"event_type,omitempty"`
	Source      string        `json:"source,omitempty"`
	Timestamp   string        `json:"timestamp,omitempty"`
	Payload     chain.Payload `json:"payload,omitempty"`
	OfflineUUID string        `json:"offline_uuid,omitempty"`

	parsedCompanyID uuid.UUID
	parsedTimestamp time.Time
}

// Validate validates and parses the request.
func (r *AppendEventRequest) Validate() error {
	r.SubjectID = strings.TrimSpace(r.SubjectID)
	if r.SubjectID == "" {
		return derrors.New(derrors.CodeValidation, "subject_id is required")
	}

	companyID, err := uuid.Parse(r.CompanyID)
	if err != nil {
		return derrors.New(derrors.CodeValidation, "company_id must be a UUID")
	}
	r.parsedCompanyID = companyID

	if r.EventType != "" && !chain.EventType(r.EventType).Valid() {
		return derrors.New(derrors.CodeValidation, "unknown event_type")
	}

	if r.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
		if err != nil {
			return derrors.New(derrors.CodeValidation, "timestamp must be RFC 3339")
		}
		r.parsedTimestamp = ts
	}
	return nil
}

// ToAppend converts the validated body into the service request.
func (r *AppendEventRequest) ToAppend() chain.AppendRequest {
	return chain.AppendRequest{
		CompanyID:   r.parsedCompanyID,
		SubjectID:   r.SubjectID,
		EventType:   chain.EventType(r.EventType),
		Source:      r.Source,
		Timestamp:   r.parsedTimestamp,
		Payload:     r.Payload,
		OfflineUUID: r.OfflineUUID,
	}
}
