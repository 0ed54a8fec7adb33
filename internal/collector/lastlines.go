package collector

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const lastLinesBlockSize = 4096

// ReadLastLines returns up to n trailing lines of a file in file order
func ReadLastLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	start, err := tailOffset(file, stat.Size(), n)
	if err != nil {
		return nil, err
	}
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to %d: %w", start, err)
	}

	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading log file: %w", err)
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// tailOffset walks backwards in blocks until it has passed n line breaks
// and returns the offset where the last n lines begin
func tailOffset(file *os.File, size int64, n int) (int64, error) {
	// A trailing newline terminates the last line rather than starting a new one
	breaks := 0
	if size > 0 {
		last := make([]byte, 1)
		if _, err := file.ReadAt(last, size-1); err != nil {
			return 0, fmt.Errorf("reading block: %w", err)
		}
		if last[0] == '\n' {
			breaks = -1
		}
	}

	buf := make([]byte, lastLinesBlockSize)
	pos := size
	for pos > 0 {
		readSize := int64(lastLinesBlockSize)
		if readSize > pos {
			readSize = pos
		}
		pos -= readSize

		block := buf[:readSize]
		if _, err := file.ReadAt(block, pos); err != nil && err != io.EOF {
			return 0, fmt.Errorf("reading block: %w", err)
		}
		for i := len(block) - 1; i >= 0; i-- {
			if block[i] != '\n' {
				continue
			}
			breaks++
			if breaks == n {
				return pos + int64(i) + 1, nil
			}
		}
	}
	return 0, nil
}
