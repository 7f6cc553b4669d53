package remote_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yldhj/daftmapler/pkg/provider/tts"
	"github.com/yldhj/daftmapler/pkg/provider/tts/remote"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "ftp://host/tts", "://bad"} {
		if _, err := remote.New(raw); err == nil {
			t.Errorf("New(%q): expected error", raw)
		}
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	t.Cleanup(srv.Close)

	p, err := remote.New(srv.URL+"/api/tts?voice=brian", remote.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	speech, err := p.Synthesize(t.Context(), "hello & bye")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if string(speech.Audio) != "mp3-bytes" || speech.ContentType != "audio/mpeg" {
		t.Errorf("speech = %q (%s)", speech.Audio, speech.ContentType)
	}
	if got := gotQuery["text"]; len(got) != 1 || got[0] != "hello & bye" {
		t.Errorf("text param = %v", got)
	}
	if got := gotQuery["voice"]; len(got) != 1 || got[0] != "brian" {
		t.Errorf("existing query lost: %v", gotQuery)
	}
}

func TestSynthesize_DefaultContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte{0x52, 0x49, 0x46, 0x46})
	}))
	t.Cleanup(srv.Close)

	p, err := remote.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	speech, err := p.Synthesize(t.Context(), "x")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if speech.ContentType != tts.DefaultContentType {
		t.Errorf("ContentType = %q, want %q", speech.ContentType, tts.DefaultContentType)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"empty body", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			p, err := remote.New(srv.URL)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if _, err := p.Synthesize(t.Context(), "x"); err == nil {
				t.Error("expected error")
			}
		})
	}
}
