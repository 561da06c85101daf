package tracking

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-io/tidewater/store"
)

func newTagTracker(ms *store.MemoryStore, processor string) *TagTracker {
	return NewTagTracker(Config{
		Store:         ms,
		Container:     "logs",
		LeaseDuration: 15 * time.Second,
		LeaseRenewal:  10 * time.Second,
		Processor:     processor,
	})
}

func listWithTags(t *testing.T, ms *store.MemoryStore) []store.BlobInfo {
	t.Helper()
	page, err := ms.List("logs", store.ListOptions{IncludeTags: true}).NextPage(context.Background())
	require.NoError(t, err)
	return page
}

func TestTagFilterCandidates(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.PutBlob("logs", "new.log", []byte("x"))
	ms.PutBlob("logs", "failed.log", []byte("x"))
	ms.PutTags("logs", "failed.log", map[string]string{TagStatus: StatusFailed})
	ms.PutBlob("logs", "processing.log", []byte("x"))
	ms.PutTags("logs", "processing.log", map[string]string{TagStatus: StatusProcessing})
	ms.PutBlob("logs", "done.log", []byte("x"))
	ms.PutTags("logs", "done.log", map[string]string{TagStatus: StatusCompleted})

	tracker := newTagTracker(ms, "c1")
	defer tracker.Close()

	candidates, err := tracker.FilterCandidates(context.Background(), listWithTags(t, ms))
	require.NoError(t, err)

	var names []string
	for _, c := range candidates {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"new.log", "failed.log"}, names)
}

func TestTagFilterFallsBackToTagRead(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.PutBlob("logs", "done.log", []byte("x"))
	ms.PutTags("logs", "done.log", map[string]string{TagStatus: StatusCompleted})
	ms.PutBlob("logs", "new.log", []byte("x"))

	tracker := newTagTracker(ms, "c1")
	defer tracker.Close()

	// Listing without tags: the filter must read them per blob.
	page, err := ms.List("logs", store.ListOptions{}).NextPage(context.Background())
	require.NoError(t, err)
	require.Nil(t, page[0].Tags)

	candidates, err := tracker.FilterCandidates(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "new.log", candidates[0].Name)
}

func TestTagClaimSetsReservedTags(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.PutBlob("logs", "a.log", []byte("x"))
	tracker := newTagTracker(ms, "c1")
	defer tracker.Close()
	ctx := context.Background()

	ok, err := tracker.Claim(ctx, "a.log")
	require.NoError(t, err)
	require.True(t, ok)

	tags, err := ms.GetTags(ctx, "logs", "a.log")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, tags[TagStatus])
	assert.Equal(t, "c1", tags[TagProcessor])
	assert.NotEmpty(t, tags[TagStarted])

	require.NoError(t, tracker.Release(ctx, "a.log"))
}

func TestTagClaimConflict(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.PutBlob("logs", "a.log", []byte("x"))
	ctx := context.Background()

	first := newTagTracker(ms, "c1")
	defer first.Close()
	second := newTagTracker(ms, "c2")
	defer second.Close()

	ok, err := first.Claim(ctx, "a.log")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Claim(ctx, "a.log")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTagUserTagsPreserved(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.PutBlob("logs", "a.log", []byte("x"))
	userTags := map[string]string{
		"team":      "payments",
		"env":       "prod",
		"retention": "30d",
		"source":    "gateway",
		"tier":      "hot",
	}
	ms.PutTags("logs", "a.log", userTags)

	tracker := newTagTracker(ms, "c1")
	defer tracker.Close()
	ctx := context.Background()

	ok, err := tracker.Claim(ctx, "a.log")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tracker.MarkCompleted(ctx, "a.log"))
	require.NoError(t, tracker.Release(ctx, "a.log"))

	tags, err := ms.GetTags(ctx, "logs", "a.log")
	require.NoError(t, err)
	for k, v := range userTags {
		assert.Equal(t, v, tags[k], "user tag %s must survive", k)
	}
	assert.Equal(t, StatusCompleted, tags[TagStatus])
	assert.LessOrEqual(t, len(tags), 10, "store caps total tags at 10")
}

func TestTagMarkCompletedClearsStartedAndError(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.PutBlob("logs", "a.log", []byte("x"))
	ms.PutTags("logs", "a.log", map[string]string{TagStatus: StatusFailed, TagError: "old failure"})

	tracker := newTagTracker(ms, "c1")
	defer tracker.Close()
	ctx := context.Background()

	ok, err := tracker.Claim(ctx, "a.log")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tracker.MarkCompleted(ctx, "a.log"))
	require.NoError(t, tracker.Release(ctx, "a.log"))

	tags, err := ms.GetTags(ctx, "logs", "a.log")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, tags[TagStatus])
	assert.NotEmpty(t, tags[TagCompleted])
	assert.NotContains(t, tags, TagStarted)
	assert.NotContains(t, tags, TagError)
}

func TestTagMarkFailedSanitizesError(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.PutBlob("logs", "a.log", []byte("x"))

	tracker := newTagTracker(ms, "c1")
	defer tracker.Close()
	ctx := context.Background()

	ok, err := tracker.Claim(ctx, "a.log")
	require.NoError(t, err)
	require.True(t, ok)

	reason := "read https://acct.blob.example/a.log: 500 <Internal\tError> " + strings.Repeat("x", 300)
	require.NoError(t, tracker.MarkFailed(ctx, "a.log", reason))
	require.NoError(t, tracker.Release(ctx, "a.log"))

	tags, err := ms.GetTags(ctx, "logs", "a.log")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, tags[TagStatus])
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9 +\-./:=_]{0,256}$`), tags[TagError])
	assert.Len(t, tags[TagError], 256)
}

func TestSanitizeErrorTag(t *testing.T) {
	assert.Equal(t, "unknown", sanitizeErrorTag(""))
	assert.Equal(t, "plain reason 1.2.3", sanitizeErrorTag("plain reason 1.2.3"))
	assert.Equal(t, "a_b_c", sanitizeErrorTag("a<b>c"))
	assert.Len(t, sanitizeErrorTag(strings.Repeat("y", 1000)), 256)
}

func TestTagReprocessingFailedBlob(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.PutBlob("logs", "a.log", []byte("x"))

	tracker := newTagTracker(ms, "c1")
	defer tracker.Close()
	ctx := context.Background()

	ok, err := tracker.Claim(ctx, "a.log")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tracker.MarkFailed(ctx, "a.log", "boom"))
	require.NoError(t, tracker.Release(ctx, "a.log"))

	// The failed blob is a candidate again and can be reclaimed.
	candidates, err := tracker.FilterCandidates(ctx, listWithTags(t, ms))
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	ok, err = tracker.Claim(ctx, "a.log")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, tracker.Release(ctx, "a.log"))
}

func TestTagCompromisedFlagReadAndClear(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.PutBlob("logs", "a.log", []byte("x"))

	tracker := newTagTracker(ms, "c1")
	defer tracker.Close()

	assert.False(t, tracker.WasLeaseRenewalCompromised("a.log"))

	tracker.leases.markCompromised("a.log")
	assert.True(t, tracker.WasLeaseRenewalCompromised("a.log"))
	assert.False(t, tracker.WasLeaseRenewalCompromised("a.log"), "flag is read-and-clear")
}

func TestTagCloseReleasesAllLeases(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.PutBlob("logs", "a.log", []byte("x"))
	ms.PutBlob("logs", "b.log", []byte("x"))

	tracker := newTagTracker(ms, "c1")
	ctx := context.Background()

	for _, name := range []string{"a.log", "b.log"} {
		ok, err := tracker.Claim(ctx, name)
		require.NoError(t, err)
		require.True(t, ok)
	}

	tracker.Close()

	// Leases are gone: fresh acquires succeed.
	for _, name := range []string{"a.log", "b.log"} {
		_, err := ms.AcquireLease(ctx, "logs", name, 15*time.Second)
		assert.NoError(t, err, "lease on %s should have been released by Close", name)
	}
}
