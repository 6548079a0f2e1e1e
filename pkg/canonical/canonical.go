// Package canonical owns every preimage format used for hashing. Keeping the
// formats in one place means a verifier recomputing a hash years later uses
// byte-for-byte the same serialization as the writer did.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Genesis is the previous-hash sentinel for the first link of a chain.
const Genesis = "GENESIS"

// TimeFormat is the timestamp layout embedded in chain preimages. Timestamps
// are normalized to UTC before formatting so the same instant always hashes
// identically.
const TimeFormat = time.RFC3339Nano

// SHA256Hex returns the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256HexString returns the lowercase hex SHA-256 of s.
func SHA256HexString(s string) string {
	return SHA256Hex([]byte(s))
}

// FormatTime normalizes t for inclusion in a preimage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ChainPreimage builds the pipe-delimited preimage for a clock event:
//
//	subject|event_type|timestamp|previous-or-GENESIS
//
// previousHash is the hex hash of the chain tail, or "" for the first event.
func ChainPreimage(subjectID, eventType string, timestamp time.Time, previousHash string) string {
	prev := previousHash
	if prev == "" {
		prev = Genesis
	}
	return strings.Join([]string{subjectID, eventType, FormatTime(timestamp), prev}, "|")
}

// ChainEventHash hashes a clock event preimage.
func ChainEventHash(subjectID, eventType string, timestamp time.Time, previousHash string) string {
	return SHA256HexString(ChainPreimage(subjectID, eventType, timestamp, previousHash))
}

// HashJSON hashes the deterministic JSON encoding of v. encoding/json emits
// struct fields in declaration order and map keys sorted, so the encoding is
// stable for the closed types this repo hashes.
func HashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical marshal: %w", err)
	}
	return SHA256Hex(data), nil
}

type ledgerPreimage struct {
	EventType      string `json:"event_type"`
	ThreadID       string `json:"thread_id"`
	RecipientID    string `json:"recipient_id"`
	EventTimestamp string `json:"event_timestamp"`
	EventData      any    `json:"event_data"`
	PreviousHash   string `json:"previous_hash"`
}

// LedgerContentHash hashes one evidence ledger entry. The preimage is the
// canonical JSON object {event_type, thread_id, recipient_id, event_timestamp,
// event_data, previous_hash}; previousHash is "" for the first entry of a
// thread and is replaced by the Genesis sentinel.
func LedgerContentHash(eventType, threadID, recipientID string, timestamp time.Time, eventData any, previousHash string) (string, error) {
	prev := previousHash
	if prev == "" {
		prev = Genesis
	}
	return HashJSON(ledgerPreimage{
		EventType:      eventType,
		ThreadID:       threadID,
		RecipientID:    recipientID,
		EventTimestamp: FormatTime(timestamp),
		EventData:      eventData,
		PreviousHash:   prev,
	})
}
