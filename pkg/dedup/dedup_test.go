package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldProcess(t *testing.T) {
	d := New(time.Minute, 10)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	assert.True(t, d.ShouldProcess("evt-1"))
	assert.False(t, d.ShouldProcess("evt-1"), "redelivery inside the ttl")
	assert.True(t, d.ShouldProcess(""))
	assert.True(t, d.ShouldProcess(""))

	now = now.Add(2 * time.Minute)
	assert.True(t, d.ShouldProcess("evt-1"), "expired ids are new again")
}

func TestCapacityEvictsOldest(t *testing.T) {
	d := New(time.Hour, 2)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	for _, id := range []string{"a", "b", "c"} {
		now = now.Add(time.Second)
		assert.True(t, d.ShouldProcess(id))
	}
	assert.Equal(t, 2, d.Len())
	assert.True(t, d.ShouldProcess("a"), "oldest id was evicted")
	assert.False(t, d.ShouldProcess("c"))
}
