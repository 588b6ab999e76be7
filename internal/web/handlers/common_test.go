package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		data       any
		wantBody   string
	}{
		{"object", http.StatusOK, map[string]int{"count": 42}, `{"count":42}`},
		{"created", http.StatusCreated, []string{"a"}, `["a"]`},
		{"nil data", http.StatusNoContent, nil, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.statusCode, tc.data)

			assertStatusCode(t, recorder, tc.statusCode)
			if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
			}
			if got := strings.TrimSpace(recorder.Body.String()); got != tc.wantBody {
				t.Errorf("expected body %q, got %q", tc.wantBody, got)
			}
		})
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusConflict, "job is running")

	assertStatusCode(t, recorder, http.StatusConflict)
	assertJSONError(t, recorder, "job is running")
}

func TestHealthCheck(t *testing.T) {
	recorder := httptest.NewRecorder()
	HealthCheck(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 100},
		{"limit=5", 5},
		{"limit=0", 100},
		{"limit=-3", 100},
		{"limit=abc", 100},
	}

	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?"+tc.query, nil)
			if got := queryInt(req, "limit", 100); got != tc.want {
				t.Errorf("queryInt() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("classic\r\nfake entry"); got != "classicfake entry" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}
