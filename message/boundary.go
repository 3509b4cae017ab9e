package message

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
)

// BoundaryPrefix is put in front of every boundary produced by the generators
// in this package. Hyphens cannot start a line of quoted-printable or base64
// output, so a prefixed boundary cannot collide with encoded content.
const BoundaryPrefix = "----"

const boundaryLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	letterIdxBits = 6
	letterIdxMask = 1<<letterIdxBits - 1
	letterIdxMax  = 63 / letterIdxBits
)

// DefaultBoundaryLength is the number of random characters RandomBoundary
// produces when Length is zero.
const DefaultBoundaryLength = 30

// BoundaryGenerator produces multipart boundary tokens. Every call must return
// a fresh token.
type BoundaryGenerator interface {
	Generate() string
}

// BoundaryFunc adapts a plain function into a BoundaryGenerator.
type BoundaryFunc func() string

// Generate calls the function.
func (f BoundaryFunc) Generate() string {
	return f()
}

// RandomBoundary generates boundaries from crypto/rand. It is the default.
type RandomBoundary struct {
	// Length is the number of random characters after the prefix. Zero means
	// DefaultBoundaryLength.
	Length int
}

// Generate returns BoundaryPrefix followed by random alphanumerics. It panics
// if the system random source fails.
func (g RandomBoundary) Generate() string {
	length := g.Length
	if length <= 0 {
		length = DefaultBoundaryLength
	}

	var b strings.Builder
	b.Grow(len(BoundaryPrefix) + length)
	b.WriteString(BoundaryPrefix)

	pool := make([]byte, 8)
	for idx, char, rest := length, uint64(0), 0; idx > 0; {
		if rest == 0 {
			if _, err := rand.Read(pool); err != nil {
				panic(fmt.Errorf("random boundary: %w", err))
			}
			char, rest = binary.BigEndian.Uint64(pool), letterIdxMax
		}
		if i := int(char & letterIdxMask); i < len(boundaryLetters) {
			b.WriteByte(boundaryLetters[i])
			idx--
		}
		char >>= letterIdxBits
		rest--
	}

	return b.String()
}

// SequentialBoundary yields predictable boundaries of the form
// "----Boundary<N>", counting up from the starting number. It is meant for
// reproducible output. It is safe for concurrent use.
type SequentialBoundary struct {
	mu   sync.Mutex
	next int
}

// NewSequentialBoundary returns a generator whose first token ends in start.
func NewSequentialBoundary(start int) *SequentialBoundary {
	return &SequentialBoundary{next: start}
}

// Generate returns the next token in sequence.
func (g *SequentialBoundary) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.next
	g.next++
	return fmt.Sprintf("%sBoundary%d", BoundaryPrefix, n)
}

// uniqueBoundary wraps another generator and never returns the same token
// twice.
type uniqueBoundary struct {
	gen  BoundaryGenerator
	mu   sync.Mutex
	seen map[string]struct{}
}

// UniqueBoundary wraps gen so that a token already issued, or one of the
// reserved tokens, is never returned again. A generator that keeps repeating
// itself will cause Generate to loop, so only wrap generators that can produce
// fresh values.
func UniqueBoundary(gen BoundaryGenerator, reserved ...string) BoundaryGenerator {
	seen := make(map[string]struct{}, len(reserved))
	for _, r := range reserved {
		seen[r] = struct{}{}
	}
	return &uniqueBoundary{gen: gen, seen: seen}
}

// Generate returns a token that has not been seen before.
func (u *uniqueBoundary) Generate() string {
	u.mu.Lock()
	defer u.mu.Unlock()

	for {
		b := u.gen.Generate()
		if _, dup := u.seen[b]; !dup {
			u.seen[b] = struct{}{}
			return b
		}
	}
}

// DefaultBoundary is the generator used by GenerateBoundary.
var DefaultBoundary BoundaryGenerator = RandomBoundary{}

// GenerateBoundary returns a boundary from DefaultBoundary.
func GenerateBoundary() string {
	return DefaultBoundary.Generate()
}
