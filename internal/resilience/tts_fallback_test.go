package resilience

import (
	"errors"
	"slices"
	"testing"

	"github.com/yldhj/daftmapler/pkg/provider/tts"
	ttsmock "github.com/yldhj/daftmapler/pkg/provider/tts/mock"
)

func TestTTSFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Speech: tts.Speech{Audio: []byte("primary"), ContentType: "audio/wav"}}
	secondary := &ttsmock.Provider{Speech: tts.Speech{Audio: []byte("secondary")}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	speech, err := fb.Synthesize(t.Context(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(speech.Audio) != "primary" {
		t.Errorf("audio = %q, want primary", speech.Audio)
	}
	if !slices.Equal(primary.Calls, []string{"hello"}) {
		t.Errorf("primary calls = %v", primary.Calls)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
	if got := fb.Backends(); !slices.Equal(got, []string{"primary", "secondary"}) {
		t.Errorf("Backends = %v", got)
	}
}

func TestTTSFallback_Failover(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Err: errors.New("primary down")}
	secondary := &ttsmock.Provider{Speech: tts.Speech{Audio: []byte("secondary")}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	speech, err := fb.Synthesize(t.Context(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(speech.Audio) != "secondary" {
		t.Errorf("audio = %q, want secondary", speech.Audio)
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	t.Parallel()

	fb := NewTTSFallback(&ttsmock.Provider{Err: errTest}, "only", FallbackConfig{})
	if _, err := fb.Synthesize(t.Context(), "hello"); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
