package fetcher

import (
	"fmt"
	"strings"

	hydraerrors "github.com/kquick/hydra/internal/errors"
)

// DefaultRef is the ref resolved when an input value omits one.
const DefaultRef = "master"

// Spec is a parsed repository specification. It is immutable once parsed
// from a single input value string, re-derived on every fetch and never
// persisted.
type Spec struct {
	URI       string
	Ref       string
	DeepClone bool
	Options   map[string]string
}

// ParseSpec parses a whitespace-separated input value string:
//
//	<uri> [<ref>] [deepClone-flag] [key=value ...]
//
// A token containing '=' is an option; the first non-option token after
// the URI is the ref (default "master"); an optional next non-option
// token is the deep-clone flag. Remaining tokens must all be key=value
// options, last occurrence winning on duplicate keys.
func ParseSpec(value string) (*Spec, error) {
	tokens := strings.Fields(value)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty input value", hydraerrors.ErrBadSpec)
	}

	spec := &Spec{
		URI:     tokens[0],
		Ref:     DefaultRef,
		Options: map[string]string{},
	}

	rest := tokens[1:]
	if len(rest) > 0 && !strings.Contains(rest[0], "=") {
		spec.Ref = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 && !strings.Contains(rest[0], "=") {
		spec.DeepClone = true
		rest = rest[1:]
	}

	for _, tok := range rest {
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: expected key=value option, got '%s'", hydraerrors.ErrBadSpec, tok)
		}
		spec.Options[k] = v
	}

	return spec, nil
}

// String re-serializes the positional fields of the spec. Options are
// intentionally omitted: the round-trip contract covers URI and ref.
func (s *Spec) String() string {
	if s.Ref == "" {
		return s.URI
	}
	return s.URI + " " + s.Ref
}
