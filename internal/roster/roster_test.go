package roster

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raainshe/qbitdash/internal/qbittorrent"
)

func writeRoster(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeRoster(t, t.TempDir(), `{
		"instances": [
			{"id": 1718000000000, "name": "seedbox", "url": "http://seedbox:8080/", "user": "admin", "pass": "pw", "configPath": "/srv/qbt"},
			{"id": 2, "name": "home", "url": "https://home.example"}
		],
		"settings": {"visibleStatuses": ["Seeding"]}
	}`)

	r, err := Load(path)
	require.NoError(t, err)

	instances := r.Instances()
	require.Len(t, instances, 2)
	assert.Equal(t, qbittorrent.Instance{
		ID:        1718000000000,
		Name:      "seedbox",
		URL:       "http://seedbox:8080",
		User:      "admin",
		Pass:      "pw",
		StatsPath: "/srv/qbt",
	}, instances[0])
	assert.Empty(t, instances[1].StatsPath)

	inst, ok := r.Find(2)
	require.True(t, ok)
	assert.Equal(t, "home", inst.Name)

	_, ok = r.Find(3)
	assert.False(t, ok)
}

func TestLoadSkipsInvalidAndDuplicateEntries(t *testing.T) {
	path := writeRoster(t, t.TempDir(), `{
		"instances": [
			{"id": 1, "name": "first", "url": "http://a"},
			{"id": 1, "name": "duplicate", "url": "http://b"},
			{"id": 0, "name": "no id", "url": "http://c"},
			{"id": 3, "name": "no url"},
			{"id": 4, "name": "bad scheme", "url": "ftp://d"},
			{"id": 5, "url": "http://e"}
		]
	}`)

	r, err := Load(path)
	require.NoError(t, err)

	instances := r.Instances()
	require.Len(t, instances, 2)
	assert.Equal(t, "first", instances[0].Name)
	assert.Equal(t, "instance-5", instances[1].Name, "missing names get a fallback")
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, r.Instances())
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeRoster(t, t.TempDir(), `{"instances": [`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestInstancesReturnsCopy(t *testing.T) {
	path := writeRoster(t, t.TempDir(), `{"instances": [{"id": 1, "name": "a", "url": "http://a"}]}`)
	r, err := Load(path)
	require.NoError(t, err)

	instances := r.Instances()
	instances[0].Name = "changed"
	assert.Equal(t, "a", r.Instances()[0].Name)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeRoster(t, dir, `{"instances": [{"id": 1, "name": "a", "url": "http://a"}]}`)
	r, err := Load(path)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []qbittorrent.Instance
	r.Watch(func(instances []qbittorrent.Instance) {
		mu.Lock()
		got = instances
		mu.Unlock()
	})

	writeRoster(t, dir, `{"instances": [{"id": 1, "name": "a", "url": "http://a"}, {"id": 2, "name": "b", "url": "http://b"}]}`)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Len(t, r.Instances(), 2)
}
