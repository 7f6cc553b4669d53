package filter_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yldhj/daftmapler/internal/filter"
)

func TestFilter_Match(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		patterns []string
		text     string
		want     bool
	}{
		{"case insensitive", []string{"banned", ""}, "this is BANNED text", true},
		{"empty pattern never matches", []string{""}, "anything", false},
		{"no patterns", nil, "anything", false},
		{"line breaks stripped", []string{"ban\r\nned\n"}, "banned", true},
		{"carriage return stripped", []string{"ba\rd"}, "so bad", true},
		{"regexp syntax", []string{`f[o0]+`}, "f00 bar", true},
		{"multi-line anchors", []string{`^bad$`}, "fine\nbad\nfine", true},
		{"invalid pattern skipped", []string{"(", "ok"}, "it is ok", true},
		{"no match", []string{"banned"}, "clean", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := filter.New(tt.patterns).Match(tt.text); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestFilter_Len(t *testing.T) {
	t.Parallel()

	f := filter.New([]string{"a", "", "(", "b"})
	if f.Len() != 2 {
		t.Errorf("Len = %d, want 2", f.Len())
	}
	f.SetPatterns([]string{"c"})
	if f.Len() != 1 || !f.Match("abc") || f.Match("ab") {
		t.Error("SetPatterns did not replace the pattern list")
	}
}

func TestFilter_Check(t *testing.T) {
	t.Parallel()

	f := filter.New([]string{"banned"})
	tests := []struct {
		name       string
		text       string
		present    bool
		wantStatus int
	}{
		{"absent", "", false, http.StatusUnprocessableEntity},
		{"empty", "", true, http.StatusUnprocessableEntity},
		{"forbidden", "so banned", true, http.StatusForbidden},
		{"allowed", "hello", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := f.Check(tt.text, tt.present)
			if tt.wantStatus == 0 {
				if err != nil {
					t.Fatalf("Check = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, filter.ErrRejected) {
				t.Fatalf("Check = %v, want ErrRejected", err)
			}
			var rej *filter.Rejection
			if !errors.As(err, &rej) || rej.Status != tt.wantStatus {
				t.Errorf("rejection = %+v, want status %d", rej, tt.wantStatus)
			}
		})
	}
}

func TestFilter_Middleware(t *testing.T) {
	t.Parallel()

	var rejected []string
	f := filter.New([]string{"banned"}, filter.WithRejectObserver(func(reason string) {
		rejected = append(rejected, reason)
	}))
	h := f.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name      string
		target    string
		method    string
		wantCode  int
		wantError string
	}{
		{"missing text", "/api/tts", http.MethodGet, http.StatusUnprocessableEntity, filter.MsgInvalidPayload},
		{"repeated text", "/api/tts?text=a&text=b", http.MethodGet, http.StatusUnprocessableEntity, filter.MsgInvalidPayload},
		{"empty text", "/api/tts?text=", http.MethodGet, http.StatusUnprocessableEntity, filter.MsgEmptyMessage},
		{"forbidden", "/api/tts?text=this%20is%20BANNED", http.MethodGet, http.StatusForbidden, filter.MsgForbidden},
		{"allowed get", "/api/tts?text=hello", http.MethodGet, http.StatusTeapot, ""},
		{"allowed post", "/api/tts?text=hello", http.MethodPost, http.StatusTeapot, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantError == "" {
				return
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body %q: %v", rec.Body.String(), err)
			}
			if body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
		})
	}

	if len(rejected) != 4 {
		t.Errorf("observer saw %d rejections, want 4", len(rejected))
	}
}
