package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", fmt.Errorf("rule r1: %w", ErrNotFound), http.StatusNotFound},
		{"conflict", fmt.Errorf("dup: %w", ErrConflict), http.StatusConflict},
		{"state", fmt.Errorf("closed: %w", ErrStateConflict), http.StatusConflict},
		{"invalid", fmt.Errorf("bad: %w", ErrInvalidInput), http.StatusBadRequest},
		{"upstream", Upstream(errors.New("signature service unavailable")), http.StatusBadGateway},
		{"upstream keeps kind", Upstream(fmt.Errorf("bad key: %w", ErrInvalidInput)), http.StatusBadRequest},
		{"internal", errors.New("load active rules: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestNewMatchesKind(t *testing.T) {
	errDup := New(ErrConflict, "rule already exists")
	wrapped := fmt.Errorf("rule r1: %w", errDup)

	assert.ErrorIs(t, wrapped, errDup)
	assert.ErrorIs(t, wrapped, ErrConflict)
	assert.NotErrorIs(t, wrapped, ErrNotFound)
	assert.Equal(t, "rule r1: rule already exists", wrapped.Error())
}

func TestUpstreamKeepsCause(t *testing.T) {
	cause := errors.New("signature service unavailable")
	err := Upstream(cause)

	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause.Error(), err.Error())
	assert.Nil(t, Upstream(nil))
}
