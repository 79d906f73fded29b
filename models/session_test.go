package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(ids ...string) []SessionRecord {
	out := make([]SessionRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, SessionRecord{ID: id})
	}
	return out
}

func ids(recs []SessionRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestAppendCapped_EvictsOldest(t *testing.T) {
	in := records("a", "b", "c")

	out := AppendCapped(in, SessionRecord{ID: "d"}, 3)

	assert.Equal(t, []string{"b", "c", "d"}, ids(out))
	assert.Equal(t, []string{"a", "b", "c"}, ids(in), "input must not be modified")
}

func TestAppendCapped_NoLimit(t *testing.T) {
	out := AppendCapped(records("a", "b"), SessionRecord{ID: "c"}, 0)
	assert.Equal(t, []string{"a", "b", "c"}, ids(out))
}

func TestPruneExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	recs := []SessionRecord{
		{ID: "past", ExpiresAt: now.Add(-time.Hour)},
		{ID: "edge", ExpiresAt: now},
		{ID: "future", ExpiresAt: now.Add(time.Hour)},
	}

	kept, removed := PruneExpired(recs, now)

	require.Equal(t, 2, removed)
	assert.Equal(t, []string{"future"}, ids(kept))
	assert.Equal(t, 2, CountExpired(recs, now))
}

func TestIdentity_HasRole(t *testing.T) {
	id := Identity{Role: RoleUser}
	assert.True(t, id.HasRole(RoleUser, RoleAdmin))
	assert.False(t, id.HasRole(RoleAdmin))
	assert.False(t, Role("root").Valid())
	assert.True(t, RoleAdmin.Valid())
}
