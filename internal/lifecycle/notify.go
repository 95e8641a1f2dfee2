package lifecycle

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"antman/internal/fileutil"
	"antman/internal/logging"
)

// Notifier turns filesystem activity under the watch root into debounced
// nudges. A nudge only wakes the run loop early; the pass still scans the
// whole tree.
type Notifier struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	exclude  []string
	logger   *slog.Logger
	nudges   chan struct{}

	mu       sync.Mutex
	root     string
	watched  map[string]struct{}
	logFiles []string
}

// NewNotifier creates an idle notifier. Call Watch to pick a root and Run to
// start delivering nudges.
func NewNotifier(debounce time.Duration, logger *slog.Logger, exclude ...string) (*Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	cleaned := make([]string, 0, len(exclude))
	for _, dir := range exclude {
		if strings.TrimSpace(dir) != "" {
			cleaned = append(cleaned, filepath.Clean(dir))
		}
	}
	return &Notifier{
		watcher:  w,
		debounce: debounce,
		exclude:  cleaned,
		logger:   logging.NewComponentLogger(logger, "notify"),
		nudges:   make(chan struct{}, 1),
		watched:  make(map[string]struct{}),
	}, nil
}

// Nudges delivers at most one pending wake-up at a time.
func (n *Notifier) Nudges() <-chan struct{} {
	return n.nudges
}

// IgnoreLogFile drops events for logFile and its rotated backups. Files stay
// ignored once added since the daemon keeps writing the file it opened.
func (n *Notifier) IgnoreLogFile(logFile string) {
	if strings.TrimSpace(logFile) == "" {
		return
	}
	logFile = filepath.Clean(logFile)
	n.mu.Lock()
	defer n.mu.Unlock()
	if !slices.Contains(n.logFiles, logFile) {
		n.logFiles = append(n.logFiles, logFile)
	}
}

func (n *Notifier) isLogFile(path string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, logFile := range n.logFiles {
		if logging.IsLogFile(logFile, path) {
			return true
		}
	}
	return false
}

// Watch points the notifier at root and every directory below it. Calling it
// again with the same root picks up new directories; a different root drops
// the old watches.
func (n *Notifier) Watch(root string) error {
	root = filepath.Clean(root)
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.root != root {
		for dir := range n.watched {
			_ = n.watcher.Remove(dir)
		}
		clear(n.watched)
		n.root = root
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (fileutil.IsTemp(d.Name()) || n.excluded(path)) {
			return filepath.SkipDir
		}
		n.addLocked(path)
		return nil
	})
}

func (n *Notifier) addLocked(dir string) {
	if _, ok := n.watched[dir]; ok {
		return
	}
	if err := n.watcher.Add(dir); err != nil {
		n.logger.Debug("watch add failed", logging.String(logging.FieldPath, dir), logging.Error(err))
		return
	}
	n.watched[dir] = struct{}{}
}

func (n *Notifier) excluded(path string) bool {
	for _, dir := range n.exclude {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Run consumes watcher events until ctx ends or the notifier is closed.
func (n *Notifier) Run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if !n.relevant(event) {
				continue
			}
			if event.Has(fsnotify.Create) {
				n.trackNewDir(event.Name)
			}
			if timer == nil {
				timer = time.NewTimer(n.debounce)
			} else {
				timer.Reset(n.debounce)
			}
			fire = timer.C
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				n.nudge()
				continue
			}
			n.logger.Debug("watch error", logging.Error(err))
		case <-fire:
			fire = nil
			n.nudge()
		}
	}
}

func (n *Notifier) relevant(event fsnotify.Event) bool {
	if fileutil.IsTemp(filepath.Base(event.Name)) {
		return false
	}
	if n.excluded(filepath.Clean(event.Name)) || n.isLogFile(event.Name) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}

func (n *Notifier) trackNewDir(path string) {
	n.mu.Lock()
	root := n.root
	n.mu.Unlock()
	if root == "" || !strings.HasPrefix(path, root) {
		return
	}
	// Re-walk from the new entry; plain files are ignored by Watch's walk.
	n.mu.Lock()
	defer n.mu.Unlock()
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if fileutil.IsTemp(d.Name()) || n.excluded(p) {
			return filepath.SkipDir
		}
		n.addLocked(p)
		return nil
	})
}

func (n *Notifier) nudge() {
	select {
	case n.nudges <- struct{}{}:
	default:
	}
}

// Close releases the underlying watcher.
func (n *Notifier) Close() error {
	return n.watcher.Close()
}
