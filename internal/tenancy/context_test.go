package tenancy

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTenantContextDerivesAdminFlag(t *testing.T) {
	regular := NewTenantContext("t1", "u1", PlatformRoleUser)
	assert.False(t, regular.IsPlatformAdmin)
	assert.False(t, regular.ScopesAllTenants())

	admin := NewTenantContext("t1", "u1", PlatformRoleAdmin)
	assert.True(t, admin.IsPlatformAdmin)
	// An admin pinned to one tenant still gets the tenant filter.
	assert.False(t, admin.ScopesAllTenants())
}

func TestNewPlatformContextScopesAllTenants(t *testing.T) {
	tc := NewPlatformContext("u1")

	assert.Equal(t, AllTenants, tc.TenantID)
	assert.True(t, tc.IsPlatformAdmin)
	assert.True(t, tc.ScopesAllTenants())
}

func TestRequestContextGeneratesUniqueCorrelationIDs(t *testing.T) {
	a := NewRequestContext(zerolog.Nop(), TenantContext{TenantID: "t1"})
	b := NewRequestContext(zerolog.Nop(), TenantContext{TenantID: "t1"})

	require.NotEmpty(t, a.CorrelationID)
	assert.NotEqual(t, a.CorrelationID, b.CorrelationID)
	assert.False(t, a.StartedAt.IsZero())
}

func TestRequestContextLoggerCarriesIdentityFields(t *testing.T) {
	var buf bytes.Buffer
	rc := NewRequestContext(zerolog.New(&buf), NewTenantContext("t1", "u1", PlatformRoleUser))

	rc.Logger.Info().Msg("request")

	out := buf.String()
	assert.Contains(t, out, rc.CorrelationID)
	assert.Contains(t, out, `"tenant_id":"t1"`)
	assert.Contains(t, out, `"user_id":"u1"`)
}

func TestRequestContextLoggerOmitsPlatformSentinel(t *testing.T) {
	var buf bytes.Buffer
	rc := NewRequestContext(zerolog.New(&buf), NewPlatformContext("u1"))

	rc.Logger.Info().Msg("request")

	out := buf.String()
	assert.Contains(t, out, rc.CorrelationID)
	assert.NotContains(t, out, "tenant_id")
	assert.Contains(t, out, `"user_id":"u1"`)
}

func TestIntoFromRoundTrip(t *testing.T) {
	rc := NewRequestContext(zerolog.Nop(), NewTenantContext("t1", "u1", PlatformRoleUser))

	ctx := Into(context.Background(), rc)
	got, ok := From(ctx)
	require.True(t, ok)
	assert.Same(t, rc, got)

	_, ok = From(context.Background())
	assert.False(t, ok)
}
