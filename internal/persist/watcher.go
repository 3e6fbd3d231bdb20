package persist

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"atelier/internal/events"
	"atelier/internal/logging"
)

// Watcher reflects external changes to the sessions directory into the event
// router. A file appearing means another process (or a cleanup/resume in this
// one) changed what is resumable, and any attached UI should refresh its
// session list.
type Watcher struct {
	fs     *fsnotify.Watcher
	router *events.Router
	done   chan struct{}
}

// NewWatcher starts watching dir for persisted session files.
func NewWatcher(dir string, router *events.Router) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, err
	}

	w := &Watcher{fs: fs, router: router, done: make(chan struct{})}
	go w.run()
	logging.Persist("watching sessions directory %s", dir)
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.PersistWarn("sessions watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
		return
	}
	id := strings.TrimSuffix(name, ".json")

	switch {
	case ev.Op.Has(fsnotify.Create):
		w.router.Publish(events.NewEvent(id, events.KindPersistedAdded, ev.Name))
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.router.Publish(events.NewEvent(id, events.KindPersistedRemoved, ev.Name))
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}
