// Package zeal reads raid roster exports written by the Zeal EverQuest client.
package zeal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ernie/raidkeeper/internal/domain"
)

// Matches RaidRoster_<server>-<YYYYMMDD>-<HHMMSS>.txt
var fileNameRegex = regexp.MustCompile(`(?i)^RaidRoster_(.+)-(\d{8})-(\d{6})\.txt$`)

// ParseFileName extracts the server and export time from a roster file name
func ParseFileName(path string) (string, time.Time, error) {
	match := fileNameRegex.FindStringSubmatch(filepath.Base(path))
	if match == nil {
		return "", time.Time{}, fmt.Errorf("not a zeal raid roster file name: %s", filepath.Base(path))
	}
	ts, err := time.ParseInLocation("20060102150405", match[2]+match[3], time.Local)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parsing roster time: %w", err)
	}
	return match[1], ts, nil
}

// ParseFile reads a roster export. A zero at takes the time from the file name.
func ParseFile(path string, at time.Time) (*domain.ZealRoster, error) {
	if at.IsZero() {
		_, ts, err := ParseFileName(path)
		if err != nil {
			return nil, err
		}
		at = ts
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening roster: %w", err)
	}
	defer f.Close()

	members, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return &domain.ZealRoster{Path: path, Timestamp: at, Members: members}, nil
}

// Parse reads tab separated roster lines: group, name, level, class, rank, ...
func Parse(r io.Reader) ([]domain.PlayerCharacter, error) {
	var members []domain.PlayerCharacter
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			return nil, fmt.Errorf("line %d: expected at least 4 tab separated fields, got %d", lineNum, len(fields))
		}
		name := domain.NormalizeName(fields[1])
		if name == "" {
			return nil, fmt.Errorf("line %d: empty character name", lineNum)
		}
		level, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid level %q", lineNum, fields[2])
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		members = append(members, domain.PlayerCharacter{
			Name:   name,
			Level:  level,
			Class:  strings.TrimSpace(fields[3]),
			Source: domain.SourceZeal,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return members, nil
}
