package tracker

import (
	"testing"

	"github.com/cuemby/bellhop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recs(ids ...string) []*types.Record {
	out := make([]*types.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, &types.Record{ID: id, Kind: types.KindOrder, Status: types.StatusNew})
	}
	return out
}

func ids(records []*types.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestSeedThenClassifySameSnapshotIsEmpty(t *testing.T) {
	tr := New()
	snapshot := recs("1", "2", "3")

	require.NoError(t, tr.Seed(ids(snapshot)))

	fresh, seen := tr.Classify(snapshot)
	assert.Empty(t, fresh)
	assert.Len(t, seen, 3)
}

func TestSeedTwiceFails(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Seed(nil))
	assert.ErrorIs(t, tr.Seed([]string{"1"}), ErrAlreadySeeded)
	assert.False(t, tr.Contains("1"))
}

func TestClassifyReportsEachIDOnce(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Seed(nil))

	sequence := [][]*types.Record{
		recs("x"),
		recs("x", "y"),
		recs("y", "x", "x"),
		recs(),
		recs("x", "z"),
	}

	counts := map[string]int{}
	for _, snapshot := range sequence {
		fresh, _ := tr.Classify(snapshot)
		for _, r := range fresh {
			counts[r.ID]++
		}
	}

	assert.Equal(t, map[string]int{"x": 1, "y": 1, "z": 1}, counts)
	assert.Equal(t, 3, tr.Len())
}

func TestClassifyIsIdempotent(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Seed([]string{"1"}))

	fresh, _ := tr.Classify(recs("1", "2"))
	assert.Equal(t, []string{"2"}, ids(fresh))

	fresh, seen := tr.Classify(recs("1", "2"))
	assert.Empty(t, fresh)
	assert.Equal(t, []string{"1", "2"}, ids(seen))
}

func TestDuplicateInsideSnapshot(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Seed(nil))

	fresh, seen := tr.Classify(recs("a", "a"))
	assert.Equal(t, []string{"a"}, ids(fresh))
	assert.Equal(t, []string{"a"}, ids(seen))
}

func TestResetForgets(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Seed([]string{"1"}))
	_, ok := tr.FirstSeen("1")
	assert.True(t, ok)

	tr.Reset()
	assert.False(t, tr.Seeded())
	assert.Equal(t, 0, tr.Len())
	require.NoError(t, tr.Seed(nil))
}
