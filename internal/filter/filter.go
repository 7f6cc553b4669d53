// Package filter rejects text-to-speech requests containing banned words.
package filter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
)

// ErrRejected is matched by every [*Rejection].
var ErrRejected = errors.New("filter: content rejected")

// Response messages.
const (
	MsgInvalidPayload = "Invalid payload structure"
	MsgEmptyMessage   = "Message should be longer than 0 characters"
	MsgForbidden      = "Forbidden words detected"
)

// Rejection is the reason a text was refused, with the HTTP status that
// reports it.
type Rejection struct {
	Status  int
	Message string
}

func (r *Rejection) Error() string {
	return "filter: " + r.Message
}

// Is reports whether target is [ErrRejected].
func (r *Rejection) Is(target error) bool {
	return target == ErrRejected
}

// Filter holds a compiled pattern list that can be replaced at runtime.
type Filter struct {
	patterns atomic.Pointer[[]*regexp.Regexp]
	onReject func(reason string)
}

// Option configures a [Filter].
type Option func(*Filter)

// WithRejectObserver registers fn to be called with the rejection message
// whenever a request is refused.
func WithRejectObserver(fn func(reason string)) Option {
	return func(f *Filter) {
		f.onReject = fn
	}
}

// New compiles patterns into a Filter.
func New(patterns []string, opts ...Option) *Filter {
	f := &Filter{}
	f.SetPatterns(patterns)
	for _, o := range opts {
		o(f)
	}
	return f
}

// SetPatterns replaces the pattern list.
func (f *Filter) SetPatterns(patterns []string) {
	compiled := Compile(patterns)
	f.patterns.Store(&compiled)
}

// Len returns the number of active patterns.
func (f *Filter) Len() int {
	return len(*f.patterns.Load())
}

// Compile turns raw patterns into case-insensitive multi-line regexps. Line
// breaks inside a pattern are removed, empty patterns are skipped and
// invalid ones are logged and skipped.
func Compile(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		p = stripLineBreaks(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?im)" + p)
		if err != nil {
			slog.Warn("filter: skipping invalid pattern", "pattern", p, "err", err)
			continue
		}
		out = append(out, re)
	}
	return out
}

func stripLineBreaks(s string) string {
	return strings.NewReplacer("\r\n", "", "\n", "", "\r", "").Replace(s)
}

// Match reports whether any pattern matches text. It stops at the first
// match.
func (f *Filter) Match(text string) bool {
	for _, re := range *f.patterns.Load() {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Check validates a request value. present is false when the value was
// absent or ambiguous.
func (f *Filter) Check(text string, present bool) error {
	switch {
	case !present:
		return &Rejection{Status: http.StatusUnprocessableEntity, Message: MsgInvalidPayload}
	case text == "":
		return &Rejection{Status: http.StatusUnprocessableEntity, Message: MsgEmptyMessage}
	case f.Match(text):
		return &Rejection{Status: http.StatusForbidden, Message: MsgForbidden}
	}
	return nil
}

// Middleware checks the text query parameter before calling next. A
// repeated parameter counts as absent.
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		values, ok := r.URL.Query()["text"]
		present := ok && len(values) == 1
		var text string
		if present {
			text = values[0]
		}

		err := f.Check(text, present)
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}

		var rej *Rejection
		if !errors.As(err, &rej) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if f.onReject != nil {
			f.onReject(rej.Message)
		}
		slog.Info("filter: request rejected", "reason", rej.Message, "remote", r.RemoteAddr)
		writeJSONError(w, rej.Status, rej.Message)
	})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
