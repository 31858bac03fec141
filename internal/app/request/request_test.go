package request

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

type sampleOption struct {
	Letter string `json:"optionLetter" validate:"required,letter"`
}

type sampleBody struct {
	ExamID  uuid.UUID      `json:"examId" validate:"required"`
	Title   string         `json:"title" validate:"required,max=10"`
	Options []sampleOption `json:"options" validate:"required,min=1,dive"`
}

func TestDecodeJSON(t *testing.T) {
	validID := uuid.New().String()
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "ok", body: `{"examId":"` + validID + `","title":"Math","options":[{"optionLetter":"A"}]}`},
		{name: "empty_body", body: ``, wantErr: "request body is required"},
		{name: "bad_json", body: `{`, wantErr: "invalid request body"},
		{name: "missing_exam", body: `{"title":"Math","options":[{"optionLetter":"A"}]}`, wantErr: "examId is required"},
		{name: "long_title", body: `{"examId":"` + validID + `","title":"Mathematics 101","options":[{"optionLetter":"A"}]}`, wantErr: "title must have at most 10"},
		{name: "bad_letter", body: `{"examId":"` + validID + `","title":"Math","options":[{"optionLetter":"AB"}]}`, wantErr: "options[0].optionLetter must be a single letter"},
		{name: "no_options", body: `{"examId":"` + validID + `","title":"Math","options":[]}`, wantErr: "options must have at least 1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst sampleBody
			err := DecodeJSON(req, &dst)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !strings.HasPrefix(verr.Message, tc.wantErr) {
				t.Fatalf("expected message starting with %q, got %q", tc.wantErr, verr.Message)
			}
		})
	}
}
