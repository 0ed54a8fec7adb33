// Package roster imports the EverQuest guild roster dump (/outputfile guild).
package roster

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ernie/raidkeeper/internal/domain"
)

// Guild dump columns
const (
	colName = iota
	colLevel
	colClass
	colRank
	colAlt
	colLastOn
	colZone
	colPublicNote
)

var (
	mainNoteRegex  = regexp.MustCompile(`(?i)\bmain(?:\s*[:=-]\s*|\s+)([A-Za-z]+)`)
	altOfNoteRegex = regexp.MustCompile(`(?i)\balt\s+(?:of|for)\s+([A-Za-z]+)`)
	bareNameRegex  = regexp.MustCompile(`^[A-Za-z]{3,}$`)
)

// ParseFile reads a guild dump from disk
func ParseFile(path string) ([]domain.Character, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening guild roster: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat guild roster: %w", err)
	}
	return Parse(f, stat.ModTime())
}

// Parse reads tab separated guild dump lines. Alts are attached to the main
// named in their public note when that main is in the dump.
func Parse(r io.Reader, updatedAt time.Time) ([]domain.Character, error) {
	var chars []domain.Character
	notes := make(map[string]string)
	index := make(map[string]int)

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) <= colAlt {
			return nil, fmt.Errorf("line %d: expected at least %d tab separated fields, got %d", lineNum, colAlt+1, len(fields))
		}
		name := domain.NormalizeName(fields[colName])
		if name == "" {
			return nil, fmt.Errorf("line %d: empty character name", lineNum)
		}
		level, err := strconv.Atoi(strings.TrimSpace(fields[colLevel]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid level %q", lineNum, fields[colLevel])
		}

		c := domain.Character{
			Name:      name,
			Level:     level,
			Class:     strings.TrimSpace(fields[colClass]),
			Rank:      strings.TrimSpace(fields[colRank]),
			Account:   name,
			IsAlt:     isAltFlag(fields[colAlt]),
			UpdatedAt: updatedAt,
		}
		if len(fields) > colPublicNote {
			notes[name] = strings.TrimSpace(fields[colPublicNote])
		}

		if i, dup := index[name]; dup {
			chars[i] = c
			continue
		}
		index[name] = len(chars)
		chars = append(chars, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for i := range chars {
		if !chars[i].IsAlt {
			continue
		}
		main := MainFromNote(notes[chars[i].Name])
		if main == "" || main == chars[i].Name {
			continue
		}
		if _, known := index[main]; known {
			chars[i].Account = main
		}
	}
	return chars, nil
}

// MainFromNote extracts the main character named in an alt's public note:
// "main: Name", "alt of Name" or just "Name"
func MainFromNote(note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return ""
	}
	if m := mainNoteRegex.FindStringSubmatch(note); m != nil {
		return domain.NormalizeName(m[1])
	}
	if m := altOfNoteRegex.FindStringSubmatch(note); m != nil {
		return domain.NormalizeName(m[1])
	}
	if bareNameRegex.MatchString(note) {
		return domain.NormalizeName(note)
	}
	return ""
}

func isAltFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "alt", "y", "yes", "1", "true":
		return true
	}
	return false
}
