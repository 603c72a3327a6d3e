package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusPerKind(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrValidation("bad input", nil), http.StatusBadRequest},
		{ErrUnauthenticated("no token"), http.StatusUnauthorized},
		{ErrForbidden("not allowed"), http.StatusForbidden},
		{ErrNotFound("asset", "a1"), http.StatusNotFound},
		{ErrConflict("duplicate"), http.StatusConflict},
		{ErrRateLimited("slow down"), http.StatusTooManyRequests},
		{ErrExternal("upstream failed", nil), http.StatusBadGateway},
		{ErrTimeout("deadline exceeded", nil), http.StatusGatewayTimeout},
		{ErrDatabase("write failed", nil), http.StatusInternalServerError},
		{ErrInternal("boom", nil), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, As(tc.err).HTTPStatus(), "kind %s", KindOf(tc.err))
	}
}

func TestAsWrapsForeignErrors(t *testing.T) {
	plain := errors.New("disk on fire")

	ae := As(plain)
	assert.Equal(t, KindInternal, ae.Kind)
	assert.ErrorIs(t, ae.Unwrap(), plain)
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("while loading: %w", ErrNotFound("workflow", "wf-1"))

	assert.True(t, IsKind(err, KindNotFound))
	assert.Equal(t, http.StatusNotFound, As(err).HTTPStatus())
}

func TestNotFoundNamesResourceAndID(t *testing.T) {
	err := ErrNotFound("inspection", "i-42")

	require.Contains(t, err.Error(), "inspection")
	assert.Equal(t, "i-42", err.Details["id"])
}

func TestDetailsCarriedOnValidation(t *testing.T) {
	err := ErrValidation("field required", map[string]interface{}{"field": "name"})

	ae := As(err)
	assert.Equal(t, "name", ae.Details["field"])
}
