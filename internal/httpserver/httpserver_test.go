package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/tenancy"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"BEARER abc123", "abc123"},
		{"Bearer   abc123  ", "abc123"},
		{"Basic abc123", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		assert.Equal(t, tc.want, bearerToken(r), "header %q", tc.header)
	}
}

func requestWithQuery(t *testing.T, raw string) *http.Request {
	t.Helper()
	u, err := url.Parse("/api/documents/asset?" + raw)
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodGet, u.String(), nil)
}

func TestQueryFilterSkipsReservedParams(t *testing.T) {
	r := requestWithQuery(t, "page=2&limit=10&sort=-name&q=pump&status=active")

	filter := queryFilter(r)
	assert.Equal(t, bson.M{"status": "active"}, filter)
}

func TestQueryFilterMultiValueBecomesIn(t *testing.T) {
	r := requestWithQuery(t, "status=active&status=draft")

	filter := queryFilter(r)
	assert.Equal(t, bson.M{"status": bson.M{"$in": []interface{}{"active", "draft"}}}, filter)
}

func TestPageOptionsDefaults(t *testing.T) {
	r := requestWithQuery(t, "")

	opts := pageOptions(r)
	assert.Equal(t, int64(1), opts.Page)
	assert.Equal(t, int64(50), opts.Limit)
	assert.Nil(t, opts.Sort)
}

func TestPageOptionsDescendingSort(t *testing.T) {
	r := requestWithQuery(t, "page=3&limit=25&sort=-updatedAt")

	opts := pageOptions(r)
	assert.Equal(t, int64(3), opts.Page)
	assert.Equal(t, int64(25), opts.Limit)
	require.Len(t, opts.Sort, 1)
	assert.Equal(t, "updatedAt", opts.Sort[0].Key)
	assert.Equal(t, -1, opts.Sort[0].Value)
}

func TestWriteErrorEnvelope(t *testing.T) {
	s := &Server{logger: zerolog.Nop()}

	rc := tenancy.NewRequestContext(zerolog.Nop(), tenancy.TenantContext{TenantID: "t1", UserID: "u1"})
	r := httptest.NewRequest(http.MethodGet, "/api/documents/asset/missing", nil)
	r = r.WithContext(tenancy.Into(r.Context(), rc))

	w := httptest.NewRecorder()
	s.writeError(w, r, apperror.ErrNotFound("asset", "missing"))

	assert.Equal(t, http.StatusNotFound, w.Code)

	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "not_found", envelope.Code)
	assert.Equal(t, rc.CorrelationID, envelope.CorrelationID)
	assert.NotEmpty(t, envelope.Error)
}

func TestWriteErrorWrapsUnknownErrors(t *testing.T) {
	s := &Server{logger: zerolog.Nop()}

	r := httptest.NewRequest(http.MethodGet, "/api/anything", nil)
	w := httptest.NewRecorder()
	s.writeError(w, r, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "internal", envelope.Code)
}

func TestDecodeJSONRejectsMalformedBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))

	var v map[string]interface{}
	err := decodeJSON(r, &v)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}
