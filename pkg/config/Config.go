package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/sirgallo/cmdcore/pkg/logger"
)

//=========================================== Config Loading
//
// YAML on disk, watched with fsnotify so a subset of fields can change
// without a restart (SPEC_FULL.md §4.10) — the same debounce-and-reread
// shape the example pack uses for its own config/data watchers.

const NAME = "Config"

var Log = clog.NewCustomLog(NAME)

// Loader owns the on-disk path and the currently-effective Config, and
// applies hot-reloadable field updates as the file changes underneath it.
type Loader struct {
	mutex sync.RWMutex
	path  string
	cfg   *Config
}

func Load(path string) (*Loader, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}

	return &Loader{path: path, cfg: cfg}, nil
}

func readFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (l *Loader) Current() *Config {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	cp := *l.cfg
	return &cp
}

// Watch starts an fsnotify watcher on the config file's directory and
// applies live-reloadable fields (§4.10) whenever the file changes, until
// stop is closed. A malformed rewrite is logged and ignored — the last
// good config keeps being served.
func (l *Loader) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(l.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				l.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				Log.Warn("config watcher error:", err.Error())
			}
		}
	}()

	return nil
}

func (l *Loader) reload() {
	next, err := readFile(l.path)
	if err != nil {
		Log.Warn("failed to reload config, keeping previous:", err.Error())
		return
	}

	l.mutex.Lock()
	prev := l.cfg
	merged := mergeLiveReloadable(prev, next)
	l.cfg = merged
	l.mutex.Unlock()

	if prev.Listen != next.Listen || prev.EscalationListen != next.EscalationListen || prev.DataDir != next.DataDir {
		Log.Warn("listen/dataDir changed on disk but require a restart to take effect")
	}

	Log.Info("config reloaded")
}

// mergeLiveReloadable takes restart-only fields from prev and
// live-reloadable fields from next, per the split documented on Config.
func mergeLiveReloadable(prev, next *Config) *Config {
	merged := *next
	merged.Listen = prev.Listen
	merged.EscalationListen = prev.EscalationListen
	merged.DataDir = prev.DataDir

	if merged.WorkerCount < 1 || merged.WorkerCount > 256 {
		Log.Warn("rejected out-of-range workerCount on reload, keeping previous value")
		merged.WorkerCount = prev.WorkerCount
	}

	return &merged
}
