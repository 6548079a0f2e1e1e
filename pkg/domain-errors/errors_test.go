package derrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNilCause(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "should be dropped"))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeNotarizationTransient, "qtsp submit failed")

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, CodeNotarizationTransient, CodeOf(err))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestHasCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("sweep item: %w", New(CodeChainConflict, "tail moved"))

	assert.True(t, HasCode(err, CodeChainConflict))
	assert.False(t, HasCode(err, CodeIdempotencyConflict))
	assert.False(t, HasCode(nil, CodeChainConflict))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:            http.StatusBadRequest,
		CodeUnauthorized:          http.StatusUnauthorized,
		CodeNotFound:              http.StatusNotFound,
		CodeChainConflict:         http.StatusConflict,
		CodeIdempotencyInProgress: http.StatusConflict,
		CodeIdempotencyConflict:   http.StatusUnprocessableEntity,
		CodeIntegrityViolation:    http.StatusConflict,
		CodeNotarizationTransient: http.StatusServiceUnavailable,
		CodeNotarizationPermanent: http.StatusBadGateway,
		CodeInternal:              http.StatusInternalServerError,
		Code("unknown"):           http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
