package catalog

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the games directory using fsnotify and re-scans when a
// file is added, removed or renamed.
type Watcher struct {
	scanner *Scanner
	watcher *fsnotify.Watcher
}

// NewWatcher creates a new Watcher for the scanner's games directory.
func NewWatcher(scanner *Scanner) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		scanner: scanner,
		watcher: fsw,
	}, nil
}

// Run starts the watcher event loop.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.watcher.Add(w.scanner.Dir()); err != nil {
		return err
	}
	log.Printf("[debug] Watching games directory: %s", w.scanner.Dir())

	for {
		select {
		case <-ctx.Done():
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Watcher error: %v", err)
		}
	}
}

// handleEvent processes a single fsnotify event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		log.Printf("[debug] Games directory change detected: %s (%s)", filepath.Base(event.Name), event.Op)
		w.scanner.ScanAndUpdate()
	}
}

// Close closes the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
