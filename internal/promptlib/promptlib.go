// Package promptlib loads the system prompt associated with each worker
// type from a directory of prompt files and hot-reloads them on change,
// so an operator can tune a worker's prompt without restarting the
// process.
package promptlib

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/aidlc/gorilla-troop/internal/envelope"
)

// Library holds the current text of every worker type's prompt file,
// refreshed in the background as files under its root change.
type Library struct {
	root   string
	logger *slog.Logger

	mu      sync.RWMutex
	prompts map[envelope.WorkerType]string

	watcher *fsnotify.Watcher
	closed  chan struct{}
}

// Load reads every `<worker-type>.md` file directly under root into an
// in-memory map and starts a watcher that reloads a file whenever it
// changes. Call Close to stop the watcher.
func Load(root string, logger *slog.Logger) (*Library, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Library{
		root:    root,
		logger:  logger,
		prompts: make(map[envelope.WorkerType]string),
		closed:  make(chan struct{}),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("promptlib: read dir %s: %w", root, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		if err := l.reload(filepath.Join(root, e.Name())); err != nil {
			logger.Warn("promptlib: initial load failed", "file", e.Name(), "error", err)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("promptlib: new watcher: %w", err)
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return nil, fmt.Errorf("promptlib: watch %s: %w", root, err)
	}
	l.watcher = w

	go l.watchLoop()
	return l, nil
}

func workerTypeFromFilename(name string) envelope.WorkerType {
	base := strings.TrimSuffix(filepath.Base(name), ".md")
	return envelope.WorkerType(base)
}

func (l *Library) reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	wt := workerTypeFromFilename(path)
	l.mu.Lock()
	l.prompts[wt] = string(data)
	l.mu.Unlock()
	return nil
}

func (l *Library) watchLoop() {
	for {
		select {
		case <-l.closed:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := l.reload(event.Name); err != nil {
				l.logger.Warn("promptlib: reload failed", "file", event.Name, "error", err)
				continue
			}
			l.logger.Info("promptlib: reloaded prompt", "worker", workerTypeFromFilename(event.Name))
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("promptlib: watcher error", "error", err)
		}
	}
}

// Prompt returns the current system prompt for workerType, or "" if no
// file has been loaded for it.
func (l *Library) Prompt(workerType envelope.WorkerType) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.prompts[workerType]
}

// Close stops the background watcher.
func (l *Library) Close() error {
	close(l.closed)
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
