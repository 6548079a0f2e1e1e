package qtsp

import (
	"context"

	derrors "chronoseal/pkg/domain-errors"
)

// Disabled is the sealer used when no QTSP provider is configured. Every seal
// fails transiently, so evidence stays pending and retries once a provider is
// wired in.
type Disabled struct{}

func (Disabled) Seal(context.Context, string) (*SealResult, error) {
	return nil, derrors.New(derrors.CodeNotarizationTransient, "qtsp provider is not configured")
}
