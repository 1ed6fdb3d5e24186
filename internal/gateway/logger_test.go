package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/plangate/internal/auth"
	"github.com/omarluq/plangate/internal/config"
	"github.com/omarluq/plangate/internal/policy"
)

func TestNewLoggerJSON(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger(config.LoggingConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger = logger.Output(&buf)
	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "plangate", entry["service"])
}

func TestNewLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plangate.log")
	logger, err := NewLogger(config.LoggingConfig{Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info().Msg("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestNewLoggerBadOutput(t *testing.T) {
	t.Parallel()

	_, err := NewLogger(config.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	require.Error(t, err)
}

func TestShouldUsePretty(t *testing.T) {
	t.Parallel()

	assert.True(t, shouldUsePretty(config.LoggingConfig{Pretty: true, Format: "json"}, nil))
	assert.True(t, shouldUsePretty(config.LoggingConfig{Format: "pretty"}, nil))
	assert.False(t, shouldUsePretty(config.LoggingConfig{Format: "json"}, os.Stdout))
	assert.False(t, shouldUsePretty(config.LoggingConfig{Format: "console"}, nil))
}

func TestFormatLevel(t *testing.T) {
	t.Parallel()

	assert.Contains(t, formatLevel("warn"), "WRN")
	assert.Equal(t, "custom", formatLevel("custom"))
	assert.Empty(t, formatLevel(42))
	assert.Empty(t, formatMessage(nil))
	assert.Equal(t, "-> hi", formatMessage("hi"))
}

func TestRequestIDContext(t *testing.T) {
	t.Parallel()

	ctx := AddRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", GetRequestID(ctx))

	generated := GetRequestID(AddRequestID(context.Background(), ""))
	assert.Len(t, generated, 36)
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := map[time.Duration]string{
		0:                       "0s",
		250 * time.Microsecond:  "250µs",
		1500 * time.Microsecond: "1.50ms",
		2500 * time.Millisecond: "2.50s",
		90 * time.Second:        "1m30s",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatDuration(in))
	}
}

func TestWriteRejectionRetryAfter(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteRejection(rec, &policy.Rejection{
		Status:     http.StatusTooManyRequests,
		ErrorType:  "rate_limit_error",
		Reason:     "slow down",
		RetryAfter: 200 * time.Millisecond,
	})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":{"type":"rate_limit_error","message":"slow down"}}`, rec.Body.String())
}

func TestLoggingMiddlewareLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := LoggerMiddleware(logger)(LoggingMiddleware()(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			WithAdmission(r.Context(), Admission{
				Application: "billing",
				Selection:   auth.Selection{Plan: auth.Plan{ID: "gold"}},
			})
			w.WriteHeader(http.StatusTooManyRequests)
		})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", http.NoBody))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "gold", entry["plan"])
	assert.Equal(t, "billing", entry["application"])
	assert.EqualValues(t, http.StatusTooManyRequests, entry["status"])
}

func TestLoggingMiddlewareWithoutAdmission(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := LoggerMiddleware(zerolog.New(&buf))(LoggingMiddleware()(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", http.NoBody))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "plan")
	assert.Empty(t, rec.Header().Get(HeaderPlan))
}
