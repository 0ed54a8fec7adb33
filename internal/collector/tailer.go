package collector

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultPollInterval is how often the tailer checks the log for new content
const DefaultPollInterval = 100 * time.Millisecond

// LogTailer follows a growing EverQuest log and emits complete lines
type LogTailer struct {
	path     string
	interval time.Duration
	file     *os.File
	position int64
	Lines    chan string
	Errors   chan error
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLogTailer creates a new log tailer
func NewLogTailer(path string, interval time.Duration) *LogTailer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &LogTailer{
		path:     path,
		interval: interval,
		Lines:    make(chan string, 256),
		Errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}
}

// Path returns the file being tailed
func (t *LogTailer) Path() string {
	return t.path
}

func (t *LogTailer) open() error {
	if t.file != nil {
		return nil
	}
	file, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	t.file = file
	return nil
}

// Start begins tailing the log file. Without a prior replay it starts at the current end.
func (t *LogTailer) Start() error {
	if err := t.open(); err != nil {
		return err
	}

	// Only seek to end if no replay was done (position is 0)
	if t.position == 0 {
		pos, err := t.file.Seek(0, io.SeekEnd)
		if err != nil {
			t.file.Close()
			return fmt.Errorf("seeking to end: %w", err)
		}
		t.position = pos
	}

	t.wg.Add(1)
	go t.tailLoop()
	return nil
}

// ReplayFrom reads the file from the beginning and calls handler for each line.
// Lines stamped at or before after are passed with replay=true (state rebuild only);
// later lines with replay=false. Tailing continues after the last complete line.
func (t *LogTailer) ReplayFrom(after time.Time, handler func(line string, replay bool)) error {
	if err := t.open(); err != nil {
		return err
	}
	if _, err := t.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to start: %w", err)
	}
	t.position = 0

	replay := true
	return t.readLines(func(line string) {
		if ts, _, err := ParseTimestamp(line); err == nil {
			replay = !ts.After(after)
		}
		handler(line, replay)
	})
}

// Stop stops the tailer and waits for its goroutine
func (t *LogTailer) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
	})
	t.wg.Wait()
	if t.file != nil {
		t.file.Close()
	}
}

// tailLoop continuously reads new content from the log
func (t *LogTailer) tailLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.readNewContent(); err != nil {
				select {
				case t.Errors <- err:
				default:
				}
			}
		}
	}
}

// readNewContent reads any complete lines written since the last read
func (t *LogTailer) readNewContent() error {
	stat, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	// Handle copytruncate: file size smaller than position
	if stat.Size() < t.position {
		t.position = 0
	}

	// No new content
	if stat.Size() == t.position {
		return nil
	}

	return t.readLines(func(line string) {
		select {
		case t.Lines <- line:
		case <-t.done:
		}
	})
}

// readLines delivers complete lines from the current position; a trailing
// partial line is left for the next read
func (t *LogTailer) readLines(deliver func(string)) error {
	if _, err := t.file.Seek(t.position, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to %d: %w", t.position, err)
	}

	reader := bufio.NewReader(t.file)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading line: %w", err)
		}
		t.position += int64(len(line))

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		deliver(line)

		select {
		case <-t.done:
			return nil
		default:
		}
	}
}
