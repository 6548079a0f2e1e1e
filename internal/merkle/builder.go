package merkle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/chain"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/requestcontext"
	"chronoseal/pkg/sentinel"
)

// EventSource reads the day's chain events. Satisfied by the chain store.
type EventSource interface {
	ListByCompanyDay(ctx context.Context, companyID uuid.UUID, dayStart, dayEnd time.Time) ([]chain.ChainedEvent, error)
	CompaniesWithEvents(ctx context.Context, dayStart, dayEnd time.Time) ([]uuid.UUID, error)
}

// RootStore persists the built roots. Satisfied by merkle/store.
type RootStore interface {
	Upsert(ctx context.Context, root DailyRoot) (DailyRoot, error)
	Get(ctx context.Context, companyID uuid.UUID, date time.Time) (*DailyRoot, error)
}

// Builder computes and stores daily Merkle roots. Building is idempotent: the
// root is upserted on (company, date) and re-running over the same events
// yields the same hash.
type Builder struct {
	events EventSource
	roots  RootStore
	logger *slog.Logger
}

func NewBuilder(events EventSource, roots RootStore, logger *slog.Logger) (*Builder, error) {
	if events == nil || roots == nil {
		return nil, errors.New("event source and root store are required")
	}
	return &Builder{events: events, roots: roots, logger: logger}, nil
}

// BuildRoot folds the company's events for date into a stored DailyRoot.
// A root built while the day is still open is marked provisional.
func (b *Builder) BuildRoot(ctx context.Context, companyID uuid.UUID, date time.Time) (*DailyRoot, error) {
	if companyID == uuid.Nil {
		return nil, derrors.New(derrors.CodeValidation, "company_id is required")
	}

	dayStart, dayEnd := DayWindow(date)
	events, err := b.events.ListByCompanyDay(ctx, companyID, dayStart, dayEnd)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "list day events failed")
	}

	hashes := make([]string, 0, len(events))
	for _, event := range events {
		hashes = append(hashes, event.EventHash)
	}

	now := requestcontext.Now(ctx)
	root := DailyRoot{
		CompanyID:   companyID,
		Date:        dayStart,
		RootHash:    Root(hashes),
		EventCount:  len(hashes),
		BuiltAt:     now,
		Provisional: !dayEnd.Before(now),
	}

	stored, err := b.roots.Upsert(ctx, root)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "upsert daily root failed")
	}

	if b.logger != nil {
		b.logger.InfoContext(ctx, "daily root built",
			"company_id", companyID,
			"date", dayStart.Format("2006-01-02"),
			"event_count", stored.EventCount,
			"provisional", stored.Provisional,
			"root_hash", stored.RootHash[:16],
		)
	}
	return &stored, nil
}

// GetRoot fetches a stored root.
func (b *Builder) GetRoot(ctx context.Context, companyID uuid.UUID, date time.Time) (*DailyRoot, error) {
	root, err := b.roots.Get(ctx, companyID, date)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, derrors.New(derrors.CodeNotFound, "no root for that company and date")
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "get daily root failed")
	}
	return root, nil
}

// BuildClosedDay builds yesterday's root for every company that recorded
// events, skipping days whose authoritative root already exists. Used by the
// periodic job; safely re-entrant.
func (b *Builder) BuildClosedDay(ctx context.Context, now time.Time) error {
	date := Day(now.Add(-24 * time.Hour))
	dayStart, dayEnd := DayWindow(date)

	companies, err := b.events.CompaniesWithEvents(ctx, dayStart, dayEnd)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "list companies with events failed")
	}

	for _, companyID := range companies {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		existing, err := b.roots.Get(ctx, companyID, date)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return derrors.Wrap(err, derrors.CodeInternal, "check existing root failed")
		}
		if existing != nil && !existing.Provisional {
			continue
		}
		if _, err := b.BuildRoot(ctx, companyID, date); err != nil {
			if b.logger != nil {
				b.logger.ErrorContext(ctx, "daily root build failed",
					"company_id", companyID,
					"date", date.Format("2006-01-02"),
					"error", err,
				)
			}
		}
	}
	return nil
}

// RunPeriodic rebuilds closed days on the given interval until ctx is done.
func (b *Builder) RunPeriodic(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.BuildClosedDay(ctx, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
				if b.logger != nil {
					b.logger.ErrorContext(ctx, "closed day sweep failed", "error", err)
				}
			}
		}
	}
}
