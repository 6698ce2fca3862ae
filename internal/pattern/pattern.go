package pattern

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Errors returned by Compile. These are configuration errors: the process
// should refuse to start work when one is reported.
var (
	ErrNoPattern     = errors.New("no pattern specified")
	ErrVanityLength  = errors.New("vanity length must be between 2 and 8")
	ErrPrefixTooLong = errors.New("prefix exceeds 64 hex characters")
	ErrPrefixNotHex  = errors.New("prefix contains non-hex characters")
)

// Mode selects which predicate a Spec applies.
type Mode uint8

const (
	// ModePrefix matches keys whose leading hex nibbles equal the prefix.
	ModePrefix Mode = iota
	// ModeVanity matches keys whose first n hex nibbles equal the last n,
	// either directly or as a nibble palindrome.
	ModeVanity
	// ModeCombined requires both the prefix and the vanity predicate.
	ModeCombined
)

// Spec is a compiled, immutable pattern specification. Build one with
// Compile; the zero value matches nothing useful.
type Spec struct {
	mode         Mode
	vanityLen    int
	prefixNibble []byte // one decoded nibble value per prefix character
	prefix       string // original prefix, kept for Describe
}

// Compile validates the inputs and builds a Spec. prefix is a hex string
// (case-insensitive, odd lengths allowed); vanityLen of 0 means no vanity
// constraint. At least one constraint must be present.
func Compile(prefix string, vanityLen int) (*Spec, error) {
	hasPrefix := prefix != ""
	hasVanity := vanityLen != 0

	if !hasPrefix && !hasVanity {
		return nil, ErrNoPattern
	}
	if hasVanity && (vanityLen < 2 || vanityLen > 8) {
		return nil, fmt.Errorf("%w: got %d", ErrVanityLength, vanityLen)
	}

	s := &Spec{vanityLen: vanityLen}
	switch {
	case hasPrefix && hasVanity:
		s.mode = ModeCombined
	case hasPrefix:
		s.mode = ModePrefix
	default:
		s.mode = ModeVanity
	}

	if hasPrefix {
		if len(prefix) > 64 {
			return nil, fmt.Errorf("%w: %d characters", ErrPrefixTooLong, len(prefix))
		}
		nibbles := make([]byte, len(prefix))
		for i := 0; i < len(prefix); i++ {
			n, ok := nibbleValue(prefix[i])
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrPrefixNotHex, prefix[i])
			}
			nibbles[i] = n
		}
		s.prefixNibble = nibbles
		s.prefix = strings.ToLower(prefix)
	}

	return s, nil
}

// Mode reports the compiled matching mode.
func (s *Spec) Mode() Mode { return s.mode }

// Matches reports whether the public key satisfies the pattern. It works
// directly on nibbles and never materialises a hex string; this is the hot
// path shared by the CPU workers and the GPU dispatcher.
func (s *Spec) Matches(pub *[32]byte) bool {
	switch s.mode {
	case ModePrefix:
		return s.matchesPrefix(pub)
	case ModeVanity:
		return matchesVanity(pub, s.vanityLen)
	case ModeCombined:
		return s.matchesPrefix(pub) && matchesVanity(pub, s.vanityLen)
	}
	return false
}

// matchesPrefix compares the leading nibbles of the key against the decoded
// prefix. Odd prefix lengths end mid-byte; indexing by nibble handles the
// partial byte without extra masking logic.
func (s *Spec) matchesPrefix(pub *[32]byte) bool {
	for i, want := range s.prefixNibble {
		var got byte
		if i%2 == 0 {
			got = pub[i/2] >> 4
		} else {
			got = pub[i/2] & 0x0f
		}
		if got != want {
			return false
		}
	}
	return true
}

// matchesVanity reports whether the first n hex nibbles equal the last n,
// either in order or reversed (nibble palindrome).
func matchesVanity(pub *[32]byte, n int) bool {
	// Forward: nibble i vs nibble 64-n+i.
	forward := true
	for i := 0; i < n; i++ {
		if nibbleAt(pub, i) != nibbleAt(pub, 64-n+i) {
			forward = false
			break
		}
	}
	if forward {
		return true
	}
	// Palindrome: nibble i vs nibble 63-i.
	for i := 0; i < n; i++ {
		if nibbleAt(pub, i) != nibbleAt(pub, 63-i) {
			return false
		}
	}
	return true
}

// nibbleAt returns the value of hex character position i (0..63) of the key.
func nibbleAt(pub *[32]byte, i int) byte {
	b := pub[i/2]
	if i%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

func nibbleValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Describe returns a human-readable description of the pattern.
func (s *Spec) Describe() string {
	switch s.mode {
	case ModePrefix:
		return fmt.Sprintf("prefix %q", s.prefix)
	case ModeVanity:
		return fmt.Sprintf("first %d chars == last %d chars", s.vanityLen, s.vanityLen)
	case ModeCombined:
		return fmt.Sprintf("prefix %q and %d-char vanity", s.prefix, s.vanityLen)
	}
	return "unknown"
}

// Probability estimates the per-attempt chance of a match. The vanity
// predicate accepts both the direct and the palindrome form, roughly doubling
// its probability.
func (s *Spec) Probability() float64 {
	prefixProb := 1.0
	if len(s.prefixNibble) > 0 {
		prefixProb = 1.0 / math.Pow(16, float64(len(s.prefixNibble)))
	}
	vanityProb := 1.0
	if s.mode == ModeVanity || s.mode == ModeCombined {
		vanityProb = 2.0 / math.Pow(16, float64(s.vanityLen))
	}
	switch s.mode {
	case ModePrefix:
		return prefixProb
	case ModeVanity:
		return vanityProb
	default:
		return prefixProb * vanityProb
	}
}
