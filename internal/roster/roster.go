package roster

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/raainshe/qbitdash/internal/logging"
	"github.com/raainshe/qbitdash/internal/qbittorrent"
)

// entry is one instance as written in the roster file
type entry struct {
	ID         int64  `mapstructure:"id"`
	Name       string `mapstructure:"name"`
	URL        string `mapstructure:"url"`
	User       string `mapstructure:"user"`
	Pass       string `mapstructure:"pass"`
	ConfigPath string `mapstructure:"configPath"`
}

// Roster is the list of qBittorrent instances read from a JSON file:
//
//	{"instances": [{"id": 1, "name": "...", "url": "...", "user": "...", "pass": "...", "configPath": "..."}]}
//
// Invalid and duplicate entries are skipped with a warning.
type Roster struct {
	path   string
	viper  *viper.Viper
	logger *logging.Logger

	mutex     sync.RWMutex
	instances []qbittorrent.Instance
	exists    bool
}

// Load reads the roster file. A missing file yields an empty roster.
func Load(path string) (*Roster, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	r := &Roster{
		path:   path,
		viper:  v,
		logger: logging.GetConfigLogger(),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the roster file
func (r *Roster) Reload() error {
	if err := r.viper.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			r.logger.WithField("file", r.path).Warn("Roster file not found, no instances configured")
			r.set(nil, false)
			return nil
		}
		return fmt.Errorf("failed to read roster %s: %w", r.path, err)
	}

	instances, err := r.decode()
	if err != nil {
		return err
	}
	r.set(instances, true)
	return nil
}

func (r *Roster) decode() ([]qbittorrent.Instance, error) {
	var entries []entry
	if err := r.viper.UnmarshalKey("instances", &entries); err != nil {
		return nil, fmt.Errorf("failed to decode roster %s: %w", r.path, err)
	}
	return r.validate(entries), nil
}

func (r *Roster) validate(entries []entry) []qbittorrent.Instance {
	instances := make([]qbittorrent.Instance, 0, len(entries))
	seen := make(map[int64]struct{}, len(entries))

	for i, e := range entries {
		if err := checkEntry(e); err != nil {
			r.logger.WithFields(map[string]interface{}{
				"index": i,
				"name":  e.Name,
			}).WithError(err).Warn("Skipping invalid roster entry")
			continue
		}
		if _, dup := seen[e.ID]; dup {
			r.logger.WithFields(map[string]interface{}{
				"index":       i,
				"instance_id": e.ID,
			}).Warn("Skipping duplicate roster entry")
			continue
		}
		seen[e.ID] = struct{}{}

		name := e.Name
		if name == "" {
			name = fmt.Sprintf("instance-%d", e.ID)
		}
		instances = append(instances, qbittorrent.Instance{
			ID:        e.ID,
			Name:      name,
			URL:       strings.TrimRight(e.URL, "/"),
			User:      e.User,
			Pass:      e.Pass,
			StatsPath: e.ConfigPath,
		})
	}
	return instances
}

func checkEntry(e entry) error {
	if e.ID <= 0 {
		return fmt.Errorf("id must be positive, got %d", e.ID)
	}
	if e.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

func (r *Roster) set(instances []qbittorrent.Instance, exists bool) {
	r.mutex.Lock()
	r.instances = instances
	r.exists = exists
	r.mutex.Unlock()

	r.logger.WithFields(map[string]interface{}{
		"file":      r.path,
		"instances": len(instances),
	}).Info("Roster loaded")
}

// Instances returns a copy of the current roster
func (r *Roster) Instances() []qbittorrent.Instance {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]qbittorrent.Instance(nil), r.instances...)
}

// Find returns the instance with the given id
func (r *Roster) Find(id int64) (qbittorrent.Instance, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	for _, inst := range r.instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return qbittorrent.Instance{}, false
}

// Path returns the roster file path
func (r *Roster) Path() string {
	return r.path
}

// Watch reloads the roster whenever the file changes and calls onChange with the
// new instances. A file that fails to decode keeps the previous roster.
func (r *Roster) Watch(onChange func([]qbittorrent.Instance)) {
	r.mutex.RLock()
	exists := r.exists
	r.mutex.RUnlock()
	if !exists {
		r.logger.WithField("file", r.path).Warn("Roster file does not exist, not watching for changes")
		return
	}

	r.viper.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}

		instances, err := r.decode()
		if err != nil {
			r.logger.WithError(err).Error("Roster reload failed, keeping previous instances")
			return
		}
		r.set(instances, true)

		if onChange != nil {
			onChange(r.Instances())
		}
	})
	r.viper.WatchConfig()

	r.logger.WithField("file", r.path).Info("Watching roster for changes")
}
