package rule

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	hclog "github.com/hashicorp/go-hclog"
)

// AddonLoader parses an addon rule file into a ProcDef. internal/config
// supplies the real implementation; tests supply a fake.
type AddonLoader interface {
	LoadAddon(path string) (*ProcDef, error)
}

// AddonWatcher watches a directory of hot-reloadable addon rule files
// (spec §4.4 "Addon rules" and §5 "inotify/polling for addon-rule file
// changes") and atomically swaps the Model's addon overlay on change. A
// file that fails to parse is logged and the previous addon set is kept,
// per spec §7 item 2.
type AddonWatcher struct {
	model   *Model
	loader  AddonLoader
	watcher *fsnotify.Watcher
	logger  hclog.Logger
	path    string
}

func NewAddonWatcher(model *Model, loader AddonLoader, path string, logger hclog.Logger) (*AddonWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rule: create addon fsnotify watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("rule: watch addon path %q: %w", path, err)
	}
	return &AddonWatcher{model: model, loader: loader, watcher: w, logger: logger.Named("addon"), path: path}, nil
}

// Reload performs one synchronous (re)load of the addon file, used both at
// startup and from the event loop on a filesystem change notification.
func (a *AddonWatcher) Reload() {
	next, err := a.loader.LoadAddon(a.path)
	if err != nil {
		a.logger.Error("addon rule reload rejected, keeping previous set", "path", a.path, "error", err)
		return
	}
	a.model.ReplaceAddon(next)
	a.logger.Info("addon rules reloaded", "path", a.path, "procdefs", next.Len())
}

// Events exposes the underlying fsnotify event channel so the main loop can
// multiplex it alongside the bus and netlink sockets (spec §5's single
// cooperative event loop).
func (a *AddonWatcher) Events() <-chan fsnotify.Event { return a.watcher.Events }
func (a *AddonWatcher) Errors() <-chan error          { return a.watcher.Errors }
func (a *AddonWatcher) Close() error                  { return a.watcher.Close() }
