package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func protected(mw func(http.Handler) http.Handler) http.Handler {
	return mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestNoopPassesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	protected(Noop()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/deploy", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyEmptyKeyIsNoop(t *testing.T) {
	rec := httptest.NewRecorder()
	protected(APIKey("")).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/deploy", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyMissing(t *testing.T) {
	rec := httptest.NewRecorder()
	protected(APIKey("secret")).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/deploy", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyWrong(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/deploy", nil)
	req.Header.Set("x-api-key", "nope")
	rec := httptest.NewRecorder()
	protected(APIKey("secret")).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyHeaderAccepted(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/deploy", nil)
	req.Header.Set("x-api-key", "secret")
	rec := httptest.NewRecorder()
	protected(APIKey("secret")).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyBearerAccepted(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/deploy", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	protected(APIKey("secret")).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyHealthExempt(t *testing.T) {
	rec := httptest.NewRecorder()
	protected(APIKey("secret")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Only GET /health is exempt.
	rec = httptest.NewRecorder()
	protected(APIKey("secret")).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
