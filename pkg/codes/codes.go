// Package codes generates assignment and confirmation codes.
package codes

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultConfirmationBytes is the entropy of a confirmation code (160 bits)
const DefaultConfirmationBytes = 20

var confirmationEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generator produces the two codes attached to an assignment
type Generator interface {
	NewConfirmationCode() (string, error)
	NewAssignmentCode() (string, error)
}

// RandomGenerator draws both codes from a cryptographic source.
// Assignment codes are ULIDs so they sort by creation time and are easy to share;
// confirmation codes are opaque base32 strings.
type RandomGenerator struct {
	mu                sync.Mutex
	entropy           io.Reader
	now               func() time.Time
	confirmationBytes int
}

// Option configures a RandomGenerator
type Option func(*RandomGenerator)

// WithEntropy overrides the random source
func WithEntropy(r io.Reader) Option {
	return func(g *RandomGenerator) { g.entropy = r }
}

// WithClock overrides the clock used for ULID timestamps
func WithClock(now func() time.Time) Option {
	return func(g *RandomGenerator) { g.now = now }
}

// WithConfirmationBytes sets the confirmation code entropy in bytes
func WithConfirmationBytes(n int) Option {
	return func(g *RandomGenerator) {
		if n > 0 {
			g.confirmationBytes = n
		}
	}
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator(opts ...Option) *RandomGenerator {
	g := &RandomGenerator{
		entropy:           rand.Reader,
		now:               time.Now,
		confirmationBytes: DefaultConfirmationBytes,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewAssignmentCode returns a new ULID string
func (g *RandomGenerator) NewAssignmentCode() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate assignment code: %w", err)
	}
	return id.String(), nil
}

// NewConfirmationCode returns a random base32 string
func (g *RandomGenerator) NewConfirmationCode() (string, error) {
	b := make([]byte, g.confirmationBytes)

	g.mu.Lock()
	_, err := io.ReadFull(g.entropy, b)
	g.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to generate confirmation code: %w", err)
	}
	return confirmationEncoding.EncodeToString(b), nil
}
