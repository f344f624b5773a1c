package policy

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/xtxerr/bwmon/internal/logging"
)

var log = logging.Component("policy")

// Watcher logs external edits to the policy backing files. It exists for
// operator visibility only; Policy re-reads its files on every check and
// never consumes watcher events.
type Watcher struct {
	watcher *fsnotify.Watcher
	files   map[string]bool
}

// NewWatcher watches the directories containing the policy files. Watching
// the directory rather than the files keeps the watch alive across the
// rename-and-replace pattern editors use.
func NewWatcher(paths ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher: fw,
		files:   make(map[string]bool, len(paths)),
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, err
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !w.files[abs] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				log.Info("policy file changed", "file", abs, "op", event.Op.String())
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("policy watch error", "error", err)
		}
	}
}
