package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/logger"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	ta := newTestAPI(t)
	res := ta.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, res.Header().Get("Referrer-Policy"))
	assert.Equal(t, "https://gudang.example", res.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, res.Header().Get(logger.RequestIDHeader))
}

func TestRequestIDIsPropagated(t *testing.T) {
	ta := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(logger.RequestIDHeader, "scan-station-7")
	res := httptest.NewRecorder()

	ta.handler.ServeHTTP(res, req)

	assert.Equal(t, "scan-station-7", res.Header().Get(logger.RequestIDHeader))
}

func TestPreflightShortCircuits(t *testing.T) {
	ta := newTestAPI(t)
	res := ta.do(t, http.MethodOptions, "/api/v1/receipts/x/commit-scans", "", nil)

	assert.Equal(t, http.StatusNoContent, res.Code)
	assert.Contains(t, res.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestLoginRateLimitReturns429(t *testing.T) {
	ta := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		ta.handler.ServeHTTP(res, req)

		if i < 5 {
			require.Equal(t, http.StatusUnauthorized, res.Code, "attempt %d", i+1)
		} else {
			require.Equal(t, http.StatusTooManyRequests, res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	ta := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"items":[{"barcode":"%s"}]}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/receipts/any/commit-scans", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ta.staff)
	res := httptest.NewRecorder()

	ta.handler.ServeHTTP(res, req)

	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	ta := newTestAPI(t)

	assert.Equal(t, http.StatusNotFound, ta.do(t, http.MethodGet, "/api/v1/nothing-here", ta.staff, nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ta.do(t, http.MethodDelete, "/healthz", "", nil).Code)
}

func TestParsePositiveLimitCaps(t *testing.T) {
	assert.Equal(t, 200, parsePositiveLimit("9999", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("invalid", 50, 200))
}

func TestParseOptionalBool(t *testing.T) {
	value, err := parseOptionalBool("")
	require.NoError(t, err)
	assert.Nil(t, value)

	value, err = parseOptionalBool("false")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.False(t, *value)

	_, err = parseOptionalBool("maybe")
	assert.Error(t, err)
}
