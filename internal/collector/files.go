package collector

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ernie/raidkeeper/internal/domain"
)

// maxParallelFiles bounds concurrent file parses
const maxParallelFiles = 4

// Matches eqlog_<Character>_<server>.txt; server names may contain dots
var logNameRegex = regexp.MustCompile(`(?i)^eqlog_([A-Za-z]+)_(.+)\.txt$`)

// BatchOptions configures ParseFiles
type BatchOptions struct {
	Options
	DuplicateWindow time.Duration // identical records from different files within this window are collapsed
}

// CharacterFromLogName extracts the owning character from an EverQuest log file name
func CharacterFromLogName(path string) string {
	match := logNameRegex.FindStringSubmatch(filepath.Base(path))
	if match == nil {
		return ""
	}
	return domain.NormalizeName(match[1])
}

// ParseFile runs one log file through its own state machine
func ParseFile(ctx context.Context, path string, opts Options, logger *zap.Logger) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	if opts.Source == "" {
		opts.Source = filepath.Base(path)
	}
	if opts.Character == "" {
		opts.Character = CharacterFromLogName(path)
	}
	parser := NewLogParser(opts, logger)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line size
	for n := 0; scanner.Scan(); n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parser.FeedLine(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return parser.Result(), nil
}

// ParseFiles parses several logs concurrently and merges their records
func ParseFiles(ctx context.Context, paths []string, opts BatchOptions, logger *zap.Logger) (*ParseResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	results := make([]*ParseResult, len(paths))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxParallelFiles)
	for i, path := range paths {
		eg.Go(func() error {
			res, err := ParseFile(egCtx, path, opts.Options, logger)
			if err != nil {
				return err
			}
			logger.Info("Parsed log file",
				zap.String("file", path),
				zap.Int("lines", res.Lines),
				zap.Int("calls", len(res.Calls)),
				zap.Int("spends", len(res.Spends)))
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return MergeResults(results, opts.DuplicateWindow), nil
}

// MergeResults combines per-file results ordered by time, collapsing records
// seen in more than one file within window of each other
func MergeResults(results []*ParseResult, window time.Duration) *ParseResult {
	merged := &ParseResult{}
	if len(results) == 1 {
		*merged = *results[0]
		return merged
	}

	var (
		calls       [][]*domain.AttendanceEntry
		spends      [][]*domain.DkpEntry
		transfers   [][]domain.DkpTransfer
		afk         [][]domain.AfkEntry
		crashes     [][]domain.CrashReport
		memberships [][]domain.RaidMembership
		auctions    [][]domain.Auction
	)
	for _, r := range results {
		calls = append(calls, r.Calls)
		spends = append(spends, r.Spends)
		transfers = append(transfers, r.Transfers)
		afk = append(afk, r.Afk)
		crashes = append(crashes, r.Crashes)
		memberships = append(memberships, r.Memberships)
		auctions = append(auctions, r.Auctions)
		merged.Anomalies = append(merged.Anomalies, r.Anomalies...)
		merged.Lines += r.Lines
		merged.Skipped += r.Skipped
		if !r.Start.IsZero() && (merged.Start.IsZero() || r.Start.Before(merged.Start)) {
			merged.Start = r.Start
		}
		if r.End.After(merged.End) {
			merged.End = r.End
		}
	}

	merged.Calls = collapse(calls, window,
		func(c *domain.AttendanceEntry) time.Time { return c.Timestamp },
		func(c *domain.AttendanceEntry) string { return string(c.CallType) + "|" + strings.ToLower(c.Name) },
		mergeCalls)
	merged.Spends = collapse(spends, window,
		func(s *domain.DkpEntry) time.Time { return s.Timestamp },
		func(s *domain.DkpEntry) string {
			return s.Character + "|" + domain.NormalizeItem(s.Item) + "|" + strconv.Itoa(s.Amount)
		},
		nil)
	merged.Transfers = collapse(transfers, window,
		func(t domain.DkpTransfer) time.Time { return t.Timestamp },
		func(t domain.DkpTransfer) string { return domain.NormalizeItem(t.Item) + "|" + t.From + "|" + t.To },
		nil)
	merged.Afk = collapse(afk, window,
		func(a domain.AfkEntry) time.Time { return a.Start },
		func(a domain.AfkEntry) string { return a.Character },
		func(kept, dup domain.AfkEntry) domain.AfkEntry {
			if kept.Open() {
				kept.End = dup.End
			}
			return kept
		})
	merged.Crashes = collapse(crashes, window,
		func(c domain.CrashReport) time.Time { return c.Timestamp },
		func(c domain.CrashReport) string { return c.Character },
		nil)
	merged.Memberships = collapse(memberships, window,
		func(m domain.RaidMembership) time.Time { return m.Timestamp },
		func(m domain.RaidMembership) string { return m.Character + "|" + strconv.FormatBool(m.Joined) },
		nil)
	merged.Auctions = collapse(auctions, window,
		func(a domain.Auction) time.Time { return a.OpenedAt },
		func(a domain.Auction) string { return domain.NormalizeItem(a.Item) },
		func(kept, dup domain.Auction) domain.Auction {
			if len(dup.Bids) > len(kept.Bids) {
				return dup
			}
			return kept
		})

	sort.SliceStable(merged.Anomalies, func(i, j int) bool {
		return merged.Anomalies[i].Timestamp.Before(merged.Anomalies[j].Timestamp)
	})
	return merged
}

// mergeCalls folds a duplicate call's listing into the kept one
func mergeCalls(kept, dup *domain.AttendanceEntry) *domain.AttendanceEntry {
	for _, pc := range dup.Players {
		kept.Add(pc)
	}
	if !kept.Complete && dup.Complete {
		kept.Complete = true
		kept.Zone = dup.Zone
		kept.ReportedCount = dup.ReportedCount
	}
	return kept
}

type sourcedRecord[T any] struct {
	item  T
	files map[int]bool
}

// collapse flattens per-file record lists in time order. A record matching the
// key of a kept record from another file within window is folded into it; each
// kept record absorbs at most one record per file.
func collapse[T any](lists [][]T, window time.Duration, at func(T) time.Time, key func(T) string, merge func(kept, dup T) T) []T {
	type indexed struct {
		item T
		file int
	}
	var all []indexed
	for file, list := range lists {
		for _, item := range list {
			all = append(all, indexed{item: item, file: file})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return at(all[i].item).Before(at(all[j].item))
	})

	var kept []*sourcedRecord[T]
	byKey := make(map[string][]*sourcedRecord[T])

next:
	for _, rec := range all {
		k := key(rec.item)
		for _, candidate := range byKey[k] {
			if candidate.files[rec.file] {
				continue
			}
			gap := at(rec.item).Sub(at(candidate.item))
			if gap < 0 {
				gap = -gap
			}
			if gap > window {
				continue
			}
			candidate.files[rec.file] = true
			if merge != nil {
				candidate.item = merge(candidate.item, rec.item)
			}
			continue next
		}
		sr := &sourcedRecord[T]{item: rec.item, files: map[int]bool{rec.file: true}}
		kept = append(kept, sr)
		byKey[k] = append(byKey[k], sr)
	}

	out := make([]T, 0, len(kept))
	for _, sr := range kept {
		out = append(out, sr.item)
	}
	return out
}
