// Package symbols resolves the list of symbols a batch operates on.
package symbols

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/meet-minimalist/nsedata/internal/apperror"
)

// IndexSource resolves the constituents of a market index; implemented by the
// NSE client.
type IndexSource interface {
	IndexConstituents(ctx context.Context, index string) ([]string, error)
}

// FromFile reads symbols from a plain-text file, one per line. Blank lines
// and '#' comments are skipped; symbols are upper-cased and de-duplicated.
func FromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperror.Wrap(apperror.Config, fmt.Errorf("open symbol list: %w", err))
	}
	defer func() { _ = f.Close() }()

	seen := make(map[string]bool)
	var symbols []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sym := strings.ToUpper(line)
		if seen[sym] {
			continue
		}
		seen[sym] = true
		symbols = append(symbols, sym)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperror.Wrap(apperror.Config, fmt.Errorf("read symbol list: %w", err))
	}

	if len(symbols) == 0 {
		return nil, apperror.New(apperror.Config, fmt.Sprintf("symbol list %s is empty", path))
	}
	return symbols, nil
}

// FromIndex fetches the constituents of an index from the given source.
func FromIndex(ctx context.Context, src IndexSource, index string) ([]string, error) {
	symbols, err := src.IndexConstituents(ctx, index)
	if err != nil {
		return nil, apperror.Wrap(apperror.Config, fmt.Errorf("resolve index %s: %w", index, err))
	}
	if len(symbols) == 0 {
		return nil, apperror.New(apperror.Config, fmt.Sprintf("index %s has no constituents", index))
	}
	return symbols, nil
}
