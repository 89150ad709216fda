package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/topicrelay/internal/policy"
)

const reloadDebounce = 500 * time.Millisecond

// Reloader watches the config file and pushes a fresh error-policy table to
// apply after each change. Connection settings are not reloaded.
type Reloader struct {
	watcher *fsnotify.Watcher
	path    string
	apply   func(policy.Table)
	log     io.Writer
}

// NewReloader watches the directory holding path, so editors that replace the
// file on save are still seen.
func NewReloader(path string, apply func(policy.Table)) (*Reloader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}
	return &Reloader{
		watcher: watcher,
		path:    filepath.Clean(path),
		apply:   apply,
		log:     os.Stderr,
	}, nil
}

// SetLog redirects reload diagnostics.
func (r *Reloader) SetLog(w io.Writer) {
	r.log = w
}

// Run watches for file changes and reloads the policy table. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Debounce: wait after the last write before reloading
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(r.log, "config watcher error: %v\n", err)
		}
	}
}

func (r *Reloader) reload() {
	// A missing file mid-save would load as defaults.
	if _, err := os.Stat(r.path); err != nil {
		return
	}
	cfg, err := LoadConfig(r.path)
	if err == nil {
		err = cfg.Policy.Validate()
	}
	if err != nil {
		fmt.Fprintf(r.log, "hot-reload failed: %v\n", err)
		return
	}
	r.apply(cfg.Policy)
	fmt.Fprintf(r.log, "hot-reload: policy reloaded from %s\n", r.path)
}
