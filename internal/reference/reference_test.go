package reference

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAt_Format(t *testing.T) {
	when := time.Date(2024, time.March, 7, 12, 0, 0, 0, time.UTC)

	ref, err := At(when)
	require.NoError(t, err)

	assert.Len(t, ref, 17)
	assert.True(t, strings.HasPrefix(ref, "GOVUK"))
	assert.Equal(t, "07032024", ref[5:13])
	for _, c := range ref[13:] {
		assert.Contains(t, consonants, string(c))
		assert.NotContains(t, "AEIOUY", string(c))
	}
}

func TestNewUnique_RetriesOnCollision(t *testing.T) {
	calls := 0
	exists := func(ctx context.Context, ref string) (bool, error) {
		calls++
		return calls <= 2, nil // first two drawn references are taken
	}

	ref, err := NewUnique(context.Background(), exists)
	require.NoError(t, err)
	assert.Len(t, ref, 17)
	assert.Equal(t, 3, calls)
}

func TestNewUnique_Exhaustion(t *testing.T) {
	exists := func(ctx context.Context, ref string) (bool, error) {
		return true, nil
	}

	_, err := NewUnique(context.Background(), exists)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")
}
