package httpapi_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/book-expert/voice-toolkit/internal/httpapi"
	"github.com/book-expert/voice-toolkit/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	router := httpapi.NewRouter(observability.NewMetrics("httpapi_test"), func() httpapi.Status {
		return httpapi.Status{}
	})

	rec := get(t, router, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   httpapi.Status
		wantCode int
	}{
		{
			name:     "ready",
			status:   httpapi.Status{Ready: true, Endpoint: "http://127.0.0.1:8000", Pid: 42},
			wantCode: http.StatusOK,
		},
		{
			name:     "server exited",
			status:   httpapi.Status{Endpoint: "http://127.0.0.1:8000"},
			wantCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := httpapi.NewRouter(observability.NewMetrics("httpapi_test"), func() httpapi.Status {
				return tt.status
			})

			rec := get(t, router, "/readyz")
			assert.Equal(t, tt.wantCode, rec.Code)

			var got httpapi.Status
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.status, got)
		})
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics("httpapi_test")
	metrics.IncJob("asr.infer", "ok")

	router := httpapi.NewRouter(metrics, func() httpapi.Status { return httpapi.Status{} })

	rec := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `httpapi_test_jobs_total{operation="asr.infer",outcome="ok"} 1`)
}
