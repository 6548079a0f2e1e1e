// Package notary drives evidence records through qualified timestamping. An
// Evidence row walks pending -> processing -> completed, falling back to
// pending with backoff on transient failures and to failed on permanent ones.
package notary

import (
	"time"

	"github.com/google/uuid"
)

// Status is the sealing state of an Evidence record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// EvidenceType selects how the digest submitted to the QTSP is built.
type EvidenceType string

const (
	// TypeDailyTimestamp seals a company's daily Merkle root.
	TypeDailyTimestamp EvidenceType = "daily_timestamp"
	// TypeMessageEvidence seals one evidence ledger entry's content hash.
	TypeMessageEvidence EvidenceType = "message_evidence"
	// TypeMonthlyReport seals a generated report artifact by its SHA-256.
	TypeMonthlyReport EvidenceType = "monthly_report"
)

func (t EvidenceType) Valid() bool {
	switch t {
	case TypeDailyTimestamp, TypeMessageEvidence, TypeMonthlyReport:
		return true
	}
	return false
}

// Evidence is one sealing request. Created pending; mutated only by the
// notarization state machine; terminal once completed.
type Evidence struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	// GroupID buckets evidence per company and calendar month.
	GroupID uuid.UUID
	Type    EvidenceType
	Status  Status

	// Digest sources, one set per type.
	DailyRootID   *uuid.UUID
	LedgerEntryID *uuid.UUID
	// ArtifactPath points at the report blob; the notary never reads the
	// bytes, only trusts ArtifactSHA256.
	ArtifactPath   string
	ArtifactSHA256 string

	RetryCount   int
	NextRetryAt  *time.Time
	ErrorMessage string

	SealedAt     *time.Time
	TSPToken     string
	SerialNumber string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Group buckets a company's evidence by calendar month.
type Group struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	// Period is the calendar month in YYYY-MM form.
	Period    string
	CreatedAt time.Time
}

// PeriodOf formats t's calendar month as a group period.
func PeriodOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}
