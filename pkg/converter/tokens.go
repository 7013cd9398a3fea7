package converter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TokenFormat selects how tokens are written as "<symbol>:<count>" strings
type TokenFormat string

const (
	// TokensLegacy writes the repeat count beyond the first slot and drops a
	// final run that has no repeats. Existing MakeCode consumers expect this.
	TokensLegacy TokenFormat = "legacy"
	// TokensSpan writes the number of slots a run covers and never drops a run
	TokensSpan TokenFormat = "span"
)

// ErrUnknownTokenFormat is returned by ParseTokenFormat for unrecognized names
var ErrUnknownTokenFormat = errors.New("unknown token format")

// ParseTokenFormat parses a token format name
func ParseTokenFormat(name string) (TokenFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "legacy", "v1":
		return TokensLegacy, nil
	case "span", "v2":
		return TokensSpan, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTokenFormat, name)
	}
}

// Version returns the format version number
func (f TokenFormat) Version() int {
	if f == TokensSpan {
		return 2
	}
	return 1
}

// Encode renders tokens as "<symbol>:<count>" strings
func (f TokenFormat) Encode(tokens []Token) []string {
	out := make([]string, 0, len(tokens))
	for i, t := range tokens {
		count := t.Beats
		if f != TokensSpan {
			count = t.Beats - 1
			if i == len(tokens)-1 && count == 0 {
				break
			}
		}
		out = append(out, t.Symbol+":"+strconv.Itoa(count))
	}
	return out
}
