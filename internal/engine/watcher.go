package engine

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// assetExtensions are the file kinds whose appearance or removal can
// flip voice readiness.
var assetExtensions = map[string]bool{
	".onnx": true,
	".json": true,
}

// AssetWatcher watches voice asset directories and reports when their
// contents change. Readiness checks stay stat-based; the watcher only
// tells interested parties that re-checking is worthwhile, so a voice
// downloaded mid-session becomes playable without a restart.
type AssetWatcher struct {
	watcher  *fsnotify.Watcher
	changes  chan string
	done     chan struct{}
	debounce time.Duration
}

// WatchAssets starts watching the given directories. Directories that
// do not exist yet are skipped with a log line; create them first if
// watching matters.
func WatchAssets(dirs ...string) (*AssetWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	added := 0
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			log.Debug("cannot watch asset dir", "dir", dir, "error", err)
			continue
		}
		added++
		log.Debug("watching asset dir", "dir", dir)
	}
	w := &AssetWatcher{
		watcher:  fsw,
		changes:  make(chan string, 8),
		done:     make(chan struct{}),
		debounce: 500 * time.Millisecond,
	}
	if added == 0 {
		log.Debug("asset watcher idle, no watchable dirs")
	}
	go w.loop()
	return w, nil
}

// Changes emits the base name of a changed asset after each settled
// burst of filesystem events. Slow consumers lose intermediate
// notifications, never the last one.
func (w *AssetWatcher) Changes() <-chan string { return w.changes }

func (w *AssetWatcher) loop() {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending string
	)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			ext := strings.ToLower(filepath.Ext(event.Name))
			if !assetExtensions[ext] {
				continue
			}
			log.Debug("asset event", "file", event.Name, "event", event.Op)
			pending = filepath.Base(event.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			select {
			case w.changes <- pending:
			default:
				// Drop rather than block; the next burst renotifies.
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Debug("asset watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *AssetWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
