package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is a detected configuration update. The file has already been
// parsed and validated; consumers rebuild their process tree from it.
type Change struct {
	File             *File
	ChangedAt        time.Time
	Checksum         string
	PreviousChecksum string
}

// Watcher watches a configuration file and emits validated changes. Writes
// producing an unparsable or invalid document are reported on Errors and do
// not emit a change; the previous configuration stays in force.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	changes chan Change
	errs    chan error

	mu       sync.Mutex
	checksum string
	closed   bool
}

// Watch starts watching the given configuration file.
func Watch(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watch: %w", err)
	}
	// Watch the directory: editors replace files by rename, which drops a
	// watch registered on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("config watch: %w", err)
	}
	w := &Watcher{
		path:    path,
		watcher: fw,
		changes: make(chan Change, 4),
		errs:    make(chan error, 4),
	}
	if f, err := Load(path); err == nil {
		w.checksum = checksumOf(f)
	}
	go w.loop()
	return w, nil
}

// Changes delivers validated configuration updates.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Errors delivers parse and watch failures.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	defer close(w.changes)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) reload() {
	f, err := Load(w.path)
	if err != nil {
		w.report(err)
		return
	}
	sum := checksumOf(f)
	w.mu.Lock()
	prev := w.checksum
	if sum == prev {
		w.mu.Unlock()
		return
	}
	w.checksum = sum
	w.mu.Unlock()
	select {
	case w.changes <- Change{File: f, ChangedAt: time.Now(), Checksum: sum, PreviousChecksum: prev}:
	default:
	}
}

func (w *Watcher) report(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

func checksumOf(f *File) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%+v", *f)))
	return hex.EncodeToString(h[:])
}
