package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// LoadFilterList reads the newline-delimited pattern list at path. A missing
// file yields an empty list.
func LoadFilterList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read filter list %q: %w", path, err)
	}
	return ParseFilterList(data)
}

// ParseFilterList splits data into patterns. Blank lines are dropped and
// line endings are not part of a pattern.
func ParseFilterList(data []byte) ([]string, error) {
	return readFilterList(bytes.NewReader(data))
}

func readFilterList(r io.Reader) ([]string, error) {
	var patterns []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: scan filter list: %w", err)
	}
	return patterns, nil
}
