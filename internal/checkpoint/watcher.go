// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package checkpoint polls a training subprocess's output directory for
// newly-created checkpoint-<N> directories, emitting each one at most once
// per process lifetime.
package checkpoint

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

var checkpointNamePattern = regexp.MustCompile(`^checkpoint-\d+$`)

// Checkpoint is a single newly-observed checkpoint directory.
type Checkpoint struct {
	Path    string
	Name    string
	ModTime int64
}

// Watcher polls dir for subdirectories matching checkpoint-<digits>. A
// directory is emitted at most once: the CheckpointSet of already-seen
// basenames is owned exclusively by the Watcher and never touched from
// another goroutine.
type Watcher struct {
	mu   sync.Mutex
	dir  string
	seen map[string]struct{}

	logger *slog.Logger

	fsWatcher *fsnotify.Watcher
	nudge     chan struct{}
}

// New constructs a Watcher over dir. It attempts to install an fsnotify
// watch on dir as a low-latency nudge; if that fails (e.g. the directory
// does not exist yet), Poll still works, it simply relies on the caller's
// own polling cadence.
func New(dir string, logger *slog.Logger) *Watcher {
	w := &Watcher{
		dir:    dir,
		seen:   make(map[string]struct{}),
		logger: logger,
		nudge:  make(chan struct{}, 1),
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("checkpoint: fsnotify unavailable, falling back to pure polling", "error", err)
		return w
	}
	if err := fw.Add(dir); err != nil {
		logger.Warn("checkpoint: fsnotify watch failed, falling back to pure polling", "dir", dir, "error", err)
		fw.Close()
		return w
	}

	w.fsWatcher = fw
	go w.watchEvents()
	return w
}

func (w *Watcher) watchEvents() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
				select {
				case w.nudge <- struct{}{}:
				default:
				}
			}
		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Nudge returns a channel that receives a value shortly after fsnotify
// observes directory activity, letting a caller wake early for a tick
// instead of waiting the full poll interval. Poll() remains the sole
// authority on emit-once correctness regardless of what triggers it.
func (w *Watcher) Nudge() <-chan struct{} {
	return w.nudge
}

// Close releases the underlying fsnotify watch, if any.
func (w *Watcher) Close() error {
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

// Poll returns every checkpoint-<digits> directory under dir not
// previously emitted, sorted by modification time ascending (oldest
// first). A missing parent directory yields an empty slice and a warning,
// not an error. Fully-written-ness of the checkpoint is not this
// component's concern.
func (w *Watcher) Poll() []Checkpoint {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("checkpoint: output directory unavailable", "dir", w.dir, "error", err)
		return nil
	}

	var found []Checkpoint
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !checkpointNamePattern.MatchString(name) {
			continue
		}
		if _, already := w.seen[name]; already {
			continue
		}

		info, err := e.Info()
		if err != nil {
			w.logger.Warn("checkpoint: stat failed, skipping", "name", name, "error", err)
			continue
		}

		w.seen[name] = struct{}{}
		found = append(found, Checkpoint{
			Path:    filepath.Join(w.dir, name),
			Name:    name,
			ModTime: info.ModTime().UnixNano(),
		})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].ModTime < found[j].ModTime })
	return found
}
