package collector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrNoLogs is returned when a log directory holds no EverQuest logs
var ErrNoLogs = errors.New("no eqlog_*.txt files found")

// switchDebounce is how long another log must keep being written before the watcher switches to it
const switchDebounce = 500 * time.Millisecond

// NewestLog returns the most recently modified eqlog_<Character>_<server>.txt in dir
func NewestLog(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading log dir: %w", err)
	}

	var newest string
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !logNameRegex.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest, newestMod = filepath.Join(dir, e.Name()), info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("%s: %w", dir, ErrNoLogs)
	}
	return newest, nil
}

// LogWatcher follows which EverQuest log is active. EverQuest writes to the
// log of the logged in character, so a write to another log means the officer
// switched characters.
type LogWatcher struct {
	dir     string
	fixed   string
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu        sync.Mutex
	current   string
	candidate string
	seenAt    time.Time

	Changes chan string
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewLogWatcher creates a watcher for dir. A non-empty fixed path disables
// switching and is always reported as the current log.
func NewLogWatcher(dir, fixed string, logger *zap.Logger) *LogWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogWatcher{
		dir:     dir,
		fixed:   fixed,
		logger:  logger,
		Changes: make(chan string, 4),
		done:    make(chan struct{}),
	}
}

// Current returns the log being followed
func (w *LogWatcher) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start selects the initial log and begins watching the directory
func (w *LogWatcher) Start() (string, error) {
	if w.fixed != "" {
		w.mu.Lock()
		w.current = w.fixed
		w.mu.Unlock()
		return w.fixed, nil
	}

	current, err := NewestLog(w.dir)
	if err != nil {
		return "", err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return "", fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.watcher = watcher

	w.mu.Lock()
	w.current = current
	w.mu.Unlock()

	w.logger.Info("Watching log directory", zap.String("dir", w.dir), zap.String("current", current))
	w.wg.Add(1)
	go w.run()
	return current, nil
}

// Stop stops watching
func (w *LogWatcher) Stop() {
	select {
	case <-w.done:
		return
	default:
		close(w.done)
	}
	w.wg.Wait()
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *LogWatcher) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(switchDebounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Log watcher error", zap.Error(err))
		case <-ticker.C:
			w.maybeSwitch(time.Now())
		}
	}
}

func (w *LogWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !logNameRegex.MatchString(filepath.Base(event.Name)) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if event.Name == w.current {
		w.candidate = ""
		return
	}
	if event.Name != w.candidate {
		w.candidate = event.Name
		w.seenAt = time.Now()
	}
}

// maybeSwitch reports the candidate once it has been written for the debounce period
func (w *LogWatcher) maybeSwitch(now time.Time) {
	w.mu.Lock()
	if w.candidate == "" || now.Sub(w.seenAt) < switchDebounce {
		w.mu.Unlock()
		return
	}
	next := w.candidate
	w.current = next
	w.candidate = ""
	w.mu.Unlock()

	w.logger.Info("Active log changed", zap.String("path", next))
	select {
	case w.Changes <- next:
	case <-w.done:
	}
}
