package player

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// Skipper relays skip requests.
type Skipper interface {
	Skip(ctx context.Context) error
}

// ReadCommands reads operator commands from r, one per line, until r is
// exhausted or ctx is cancelled. The only command is "skip".
func ReadCommands(ctx context.Context, r io.Reader, s Skipper) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
			case "":
			case "skip":
				if err := s.Skip(ctx); err != nil {
					if errors.Is(err, ErrNotConnected) {
						slog.Warn("player: cannot skip while disconnected")
						continue
					}
					slog.Error("player: skip failed", "err", err)
				}
			default:
				slog.Warn("player: unknown command", "command", cmd)
			}
		}
	}
}
