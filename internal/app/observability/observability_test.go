package observability

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/v1/questions/exam/3f1c2a4e-8d6b-4c3a-9e7f-1a2b3c4d5e6f/part/1")
	want := "/api/v1/questions/exam/{id}/part/{id}"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
	if got := normalizedPath(""); got != "/" {
		t.Fatalf("empty path should be /, got %s", got)
	}
}

func TestExtractExamID(t *testing.T) {
	id := "3f1c2a4e-8d6b-4c3a-9e7f-1a2b3c4d5e6f"
	tests := []struct {
		path string
		want string
	}{
		{path: "/api/v1/exams/" + id + "/reset", want: id},
		{path: "/api/v1/questions/exam/" + id, want: id},
		{path: "/api/v1/user-answers/results/" + id, want: id},
		{path: "/api/v1/exams/complete", want: ""},
		{path: "/api/v1/sectors/" + id, want: ""},
	}
	for _, tc := range tests {
		if got := extractExamID(tc.path); got != tc.want {
			t.Fatalf("extractExamID(%s) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestMiddlewareLogsUserAndCountsRequests(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	c := NewCollector(nil)
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetUserID(r.Context(), "user-1")
		w.WriteHeader(http.StatusCreated)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/user-answers/submit?examId=3f1c2a4e-8d6b-4c3a-9e7f-1a2b3c4d5e6f", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	for _, want := range []string{`"user_id":"user-1"`, `"status":201`, `"exam_id":"3f1c2a4e-8d6b-4c3a-9e7f-1a2b3c4d5e6f"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("access line %q missing %s", line, want)
		}
	}

	w := httptest.NewRecorder()
	c.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `etesti_http_requests_total{method="POST",path="/api/v1/user-answers/submit",status="201"} 1`) {
		t.Fatalf("unexpected metrics:\n%s", w.Body.String())
	}
}
