package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-relay/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "tenant-1",
		Scopes:   []string{ScopeRealtimeWrite},
	}
}

func TestAuth(t *testing.T) {
	var seen struct{ tenant, user string }
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.tenant = GetTenantID(r.Context())
		seen.user = GetUserID(r.Context())
		assert.True(t, HasScope(r.Context(), ScopeRealtimeWrite))
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Auth(testSecret)(next)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	noTenant := validClaims()
	noTenant.TenantID = ""

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "bad signature", header: "Bearer " + signToken(t, "other", validClaims()), want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, testSecret, expired), want: http.StatusUnauthorized},
		{name: "no tenant", header: "Bearer " + signToken(t, testSecret, noTenant), want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + signToken(t, testSecret, validClaims()), want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want != http.StatusNoContent {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}

	assert.Equal(t, "tenant-1", seen.tenant)
	assert.Equal(t, "user-1", seen.user)
}

func TestRequireScope(t *testing.T) {
	claims := validClaims()
	claims.Scopes = []string{"realtime:read"}

	handler := Auth(testSecret)(RequireScope(ScopeRealtimeWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claims))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLogging_CorrelationID(t *testing.T) {
	var fromCtx string
	handler := Logging(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = GetCorrelationID(r.Context())
		_, isFlusher := w.(http.Flusher)
		assert.True(t, isFlusher)
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "corr-1", fromCtx)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateSessionID("01890a5d-ac96-774b-bcce-b302099a8057"))
	assert.Error(t, ValidateSessionID("not-a-uuid"))

	assert.NoError(t, ValidateModel(""))
	assert.NoError(t, ValidateModel("gpt-4o-realtime-preview"))
	assert.Error(t, ValidateModel("gpt 4o"))
	assert.Error(t, ValidateModel("a&b"))

	assert.NoError(t, ValidateCloseCode(0))
	assert.NoError(t, ValidateCloseCode(1000))
	assert.NoError(t, ValidateCloseCode(4000))
	assert.Error(t, ValidateCloseCode(1006))
	assert.Error(t, ValidateCloseCode(5000))

	assert.Error(t, ValidateCloseReason(string(make([]byte, 124))))
	assert.NoError(t, ValidateCloseReason("bye"))

	assert.Error(t, ValidateEventPayload(nil))
	assert.Error(t, ValidateEventPayload([]byte{0xff, 0xfe}))
	assert.NoError(t, ValidateEventPayload([]byte(`{"type":"x"}`)))

	assert.Error(t, ValidateMetadata(map[string]string{"": "v"}))
	assert.NoError(t, ValidateMetadata(map[string]string{"k": "v"}))
}
