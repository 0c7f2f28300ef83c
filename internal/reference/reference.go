// Package reference generates application references. The format is
// consumed downstream for Nominet registry token generation and must not
// change: "GOVUK" + DDMMYYYY + four uppercase consonants.
package reference

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// consonants excludes A, E, I, O, U and Y, leaving 20 letters.
const consonants = "BCDFGHJKLMNPQRSTVWXZ"

const maxAttempts = 10

// ExistsFunc reports whether a reference is already taken.
type ExistsFunc func(ctx context.Context, reference string) (bool, error)

// New generates a reference for now.
func New() (string, error) {
	return At(time.Now())
}

// At generates a reference dated to t.
func At(t time.Time) (string, error) {
	suffix := make([]byte, 4)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(consonants))))
		if err != nil {
			return "", fmt.Errorf("failed to draw random letter: %w", err)
		}
		suffix[i] = consonants[n.Int64()]
	}
	return fmt.Sprintf("GOVUK%s%s", t.Format("02012006"), suffix), nil
}

// NewUnique generates a reference that exists does not already know.
// Collisions are improbable but real: generation retries a bounded number
// of times and then fails rather than handing out a duplicate.
func NewUnique(ctx context.Context, exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ref, err := New()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("failed to check reference: %w", err)
		}
		if !taken {
			return ref, nil
		}
	}
	return "", fmt.Errorf("reference generation exhausted %d attempts", maxAttempts)
}
