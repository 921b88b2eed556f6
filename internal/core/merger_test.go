package core

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raainshe/qbitdash/internal/qbittorrent"
)

func mustParse(t *testing.T, body string, rid int64) *qbittorrent.MainData {
	t.Helper()
	data, err := qbittorrent.ParseMainData([]byte(body), rid)
	require.NoError(t, err)
	return data
}

func fullSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	snap := NewSnapshot()
	Fold(snap, mustParse(t, `{
		"rid": 1,
		"full_update": true,
		"torrents": {
			"h1": {"name": "one", "state": "downloading", "progress": 0.5},
			"h2": {"name": "two", "state": "uploading", "progress": 1}
		},
		"categories": {"movies": {"name": "movies", "savePath": "/m"}},
		"tags": ["a", "b"],
		"server_state": {"dl_info_speed": 100}
	}`, 0), TagPolicyReplace)
	return snap
}

func TestFoldFullReplacesEverything(t *testing.T) {
	snap := fullSnapshot(t)

	Fold(snap, mustParse(t, `{
		"rid": 2,
		"full_update": true,
		"torrents": {"h3": {"name": "three"}, "h4": null},
		"tags": ["z"]
	}`, 1), TagPolicyReplace)

	assert.Len(t, snap.Torrents, 1)
	assert.Equal(t, "three", snap.Torrents["h3"].String("name"))
	assert.NotContains(t, snap.Torrents, "h4", "null entries are dropped on full updates")
	assert.Empty(t, snap.Categories)
	assert.NotNil(t, snap.Categories)
	assert.Equal(t, []string{"z"}, snap.Tags)
	assert.Nil(t, snap.ServerState)
}

func TestFoldPartialMergesAttributes(t *testing.T) {
	snap := fullSnapshot(t)

	Fold(snap, mustParse(t, `{
		"rid": 2,
		"torrents": {"h1": {"progress": 0.75}, "h5": {"name": "five"}}
	}`, 1), TagPolicyReplace)

	require.Contains(t, snap.Torrents, "h1")
	assert.Equal(t, "one", snap.Torrents["h1"].String("name"), "untouched attributes survive")
	assert.Equal(t, 0.75, snap.Torrents["h1"].Float("progress"))
	assert.Equal(t, "five", snap.Torrents["h5"].String("name"))
	assert.Len(t, snap.Torrents, 3)
	assert.Equal(t, []string{"a", "b"}, snap.Tags, "absent tags leave the list untouched")
	assert.JSONEq(t, `{"dl_info_speed": 100}`, string(snap.ServerState), "absent server_state is kept")
}

func TestFoldPartialDoesNotAliasDelta(t *testing.T) {
	snap := NewSnapshot()
	full := mustParse(t, `{"rid": 1, "full_update": true, "torrents": {"h1": {"name": "one"}}}`, 0)
	Fold(snap, full, TagPolicyReplace)

	full.Torrents["h1"]["name"] = "mutated"
	assert.Equal(t, "one", snap.Torrents["h1"].String("name"))
}

func TestFoldRemovals(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		torrents   []string
		categories []string
	}{
		{
			name:       "null marker deletes",
			body:       `{"rid": 2, "torrents": {"h1": null}}`,
			torrents:   []string{"h2"},
			categories: []string{"movies"},
		},
		{
			name:       "null marker for unknown key is a no-op",
			body:       `{"rid": 2, "torrents": {"missing": null}}`,
			torrents:   []string{"h1", "h2"},
			categories: []string{"movies"},
		},
		{
			name:       "removed lists delete",
			body:       `{"rid": 2, "torrents_removed": ["h2"], "categories_removed": ["movies"]}`,
			torrents:   []string{"h1"},
			categories: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := fullSnapshot(t)
			Fold(snap, mustParse(t, tt.body, 1), TagPolicyReplace)

			assert.ElementsMatch(t, tt.torrents, keys(snap.Torrents))
			assert.ElementsMatch(t, tt.categories, keys(snap.Categories))
		})
	}
}

func TestFoldServerStateReplaced(t *testing.T) {
	snap := fullSnapshot(t)
	Fold(snap, mustParse(t, `{"rid": 2, "server_state": {"up_info_speed": 7}}`, 1), TagPolicyReplace)

	assert.JSONEq(t, `{"up_info_speed": 7}`, string(snap.ServerState))
}

func TestFoldTags(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		policy TagPolicy
		want   []string
	}{
		{
			name:   "replace policy replaces",
			body:   `{"rid": 2, "tags": ["c"]}`,
			policy: TagPolicyReplace,
			want:   []string{"c"},
		},
		{
			name:   "replace policy with empty list clears",
			body:   `{"rid": 2, "tags": []}`,
			policy: TagPolicyReplace,
			want:   []string{},
		},
		{
			name:   "tags_removed switches to additions",
			body:   `{"rid": 2, "tags": ["c"], "tags_removed": ["a"]}`,
			policy: TagPolicyReplace,
			want:   []string{"b", "c"},
		},
		{
			name:   "merge policy adds",
			body:   `{"rid": 2, "tags": ["b", "c"]}`,
			policy: TagPolicyMerge,
			want:   []string{"a", "b", "c"},
		},
		{
			name:   "merge policy with removals only",
			body:   `{"rid": 2, "tags_removed": ["b"]}`,
			policy: TagPolicyMerge,
			want:   []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := fullSnapshot(t)
			Fold(snap, mustParse(t, tt.body, 1), tt.policy)
			assert.Equal(t, tt.want, snap.Tags)
		})
	}
}

func TestFoldIsIdempotent(t *testing.T) {
	delta := `{
		"rid": 2,
		"torrents": {"h1": {"progress": 0.9}, "h2": null, "h6": {"name": "six"}},
		"categories_removed": ["movies"],
		"tags": ["c"],
		"tags_removed": ["a"]
	}`

	once := fullSnapshot(t)
	Fold(once, mustParse(t, delta, 1), TagPolicyReplace)

	twice := fullSnapshot(t)
	Fold(twice, mustParse(t, delta, 1), TagPolicyReplace)
	Fold(twice, mustParse(t, delta, 1), TagPolicyReplace)

	a, err := json.Marshal(once)
	require.NoError(t, err)
	b, err := json.Marshal(twice)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestSnapshotEncodesEmptyCollections(t *testing.T) {
	out, err := json.Marshal(NewSnapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `{"torrents": {}, "categories": {}, "tags": [], "server_state": null}`, string(out))
}

func TestStateStoreTreatsFirstResponseAsFull(t *testing.T) {
	store := NewStateStore()
	store.Apply(1, mustParse(t, `{"rid": 3, "torrents": {"h1": {"name": "one"}}}`, 2), TagPolicyReplace)

	snap, ok := store.Snapshot(1)
	require.True(t, ok)
	assert.Equal(t, "one", snap.Torrents["h1"].String("name"))
	assert.Equal(t, int64(3), store.Cursor(1))

	store.Reset(1)
	_, ok = store.Snapshot(1)
	assert.False(t, ok)
	assert.Equal(t, int64(0), store.Cursor(1))
}

func TestStateStoreRetain(t *testing.T) {
	store := NewStateStore()
	for _, id := range []int64{1, 2, 3} {
		store.Apply(id, mustParse(t, `{"rid": 1}`, 0), TagPolicyReplace)
	}

	dropped := store.Retain(map[int64]struct{}{2: {}})
	assert.ElementsMatch(t, []int64{1, 3}, dropped)
	assert.Equal(t, 1, store.Len())
}

func keys(m map[string]qbittorrent.Attributes) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
