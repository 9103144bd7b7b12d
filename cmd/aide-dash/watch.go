package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce coalesces the burst of writes one committed turn produces.
const watchDebounce = 150 * time.Millisecond

// fsChangeMsg is sent when the state database changes on disk.
type fsChangeMsg struct{}

// dbWatcher watches the directory holding the state database. SQLite in WAL
// mode writes the -wal and -shm siblings, so every file sharing the
// database's base name counts as a change.
type dbWatcher struct {
	w      *fsnotify.Watcher
	prefix string
	logger *zap.Logger
}

// newDBWatcher returns nil when the directory is missing or the watcher
// cannot be created; the dashboard then refreshes on its tick alone.
func newDBWatcher(dbPath string, logger *zap.Logger) *dbWatcher {
	dir := filepath.Dir(dbPath)
	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, polling only", zap.Error(err))
		return nil
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		logger.Warn("cannot watch database directory, polling only", zap.String("dir", dir), zap.Error(err))
		return nil
	}
	return &dbWatcher{w: w, prefix: filepath.Base(dbPath), logger: logger}
}

// next returns a command that blocks until the next debounced change. The
// model re-issues it after every fsChangeMsg.
func (d *dbWatcher) next() tea.Cmd {
	if d == nil {
		return nil
	}
	return func() tea.Msg {
		debounce := time.NewTimer(watchDebounce)
		if !debounce.Stop() {
			<-debounce.C
		}
		defer debounce.Stop()

		for {
			select {
			case ev, ok := <-d.w.Events:
				if !ok {
					return nil
				}
				if !strings.HasPrefix(filepath.Base(ev.Name), d.prefix) {
					continue
				}
				debounce.Reset(watchDebounce)

			case <-debounce.C:
				return fsChangeMsg{}

			case err, ok := <-d.w.Errors:
				if !ok {
					return nil
				}
				d.logger.Warn("fsnotify watcher error", zap.Error(err))
				return nil
			}
		}
	}
}

// Close stops the watcher.
func (d *dbWatcher) Close() error {
	if d == nil {
		return nil
	}
	return d.w.Close()
}
