package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/raidkeeper/internal/analyzer"
	"github.com/ernie/raidkeeper/internal/collector"
	"github.com/ernie/raidkeeper/internal/domain"
	"github.com/ernie/raidkeeper/internal/zeal"
)

// cmdParse runs the batch pipeline over one or more logs
func cmdParse(args []string) error {
	fs, configPath := newFlagSet("parse")
	from := fs.String("from", "", "ignore lines before this time")
	to := fs.String("to", "", "ignore lines after this time")
	zealFiles := fs.StringArray("zeal", nil, "Zeal raid roster export (repeatable)")
	zealTime := fs.String("zeal-time", "", "timestamp for Zeal exports whose file name carries none")
	save := fs.Bool("save", false, "store the reconciled raids")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	fs.Parse(args)

	paths := fs.Args()
	if len(paths) == 0 {
		return fmt.Errorf("usage: raidkeeper parse [--from T] [--to T] [--zeal FILE]... [--zeal-time T] [--save] [--json] <log>...")
	}
	fromTime, err := parseTimeFlag(*from)
	if err != nil {
		return err
	}
	toTime, err := parseTimeFlag(*to)
	if err != nil {
		return err
	}
	zealAt, err := parseTimeFlag(*zealTime)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := openEnv(ctx, fs, *configPath)
	if err != nil {
		return err
	}
	defer env.Close()
	cfg := env.cfg

	parsed, err := collector.ParseFiles(ctx, paths, collector.BatchOptions{
		Options: collector.Options{
			Channels:        cfg.Parser.Channels,
			WhoHeaderWindow: cfg.Parser.WhoHeaderWindow,
			From:            fromTime,
			To:              toTime,
		},
		DuplicateWindow: cfg.Analysis.DuplicateWindow,
	}, env.logger)
	if err != nil {
		return err
	}

	var rosters []*domain.ZealRoster
	for _, path := range *zealFiles {
		r, err := zeal.ParseFile(path, zealAt)
		if err != nil {
			return err
		}
		rosters = append(rosters, r)
	}

	roster, err := env.store.Roster(ctx)
	if err != nil {
		return fmt.Errorf("loading roster: %w", err)
	}

	result := analyzer.New(analyzer.SettingsFromConfig(cfg.Analysis), env.logger).Analyze(analyzer.Input{
		Parse:  parsed,
		Zeal:   rosters,
		Roster: roster,
	})

	if *save {
		for _, raid := range result.Raids {
			if err := env.store.SaveRaid(ctx, raid); err != nil {
				return fmt.Errorf("saving raid %s: %w", raid.Name, err)
			}
			raw, err := raidLogLines(paths, raid.StartedAt, raid.EndedAt)
			if err != nil {
				env.logger.Warn("Collecting raid log lines failed", zap.String("raid", raid.Name), zap.Error(err))
				continue
			}
			if err := env.store.ArchiveRaidLog(ctx, raid.ID, raw); err != nil {
				env.logger.Warn("Archiving raid log failed", zap.String("raid", raid.Name), zap.Error(err))
			}
			env.logger.Info("Saved raid", zap.Int64("id", raid.ID), zap.String("raid", raid.Name))
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printReport(os.Stdout, parsed, result)
}

// raidLogLines collects the timestamped lines of the given logs within a
// raid's time span
func raidLogLines(paths []string, start, end time.Time) ([]byte, error) {
	var buf bytes.Buffer
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			ts, _, err := collector.ParseTimestamp(scanner.Text())
			if err != nil || ts.Before(start) || ts.After(end) {
				continue
			}
			buf.Write(scanner.Bytes())
			buf.WriteByte('\n')
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return buf.Bytes(), nil
}

func printReport(out io.Writer, parsed *collector.ParseResult, result *analyzer.Result) error {
	fmt.Fprintf(out, "Parsed %d lines (%d without timestamp), %s to %s\n\n",
		parsed.Lines, parsed.Skipped, formatTime(parsed.Start), formatTime(parsed.End))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, raid := range result.Raids {
		fmt.Fprintf(out, "== %s (%s - %s)\n", raid.Name, formatTime(raid.StartedAt), formatTime(raid.EndedAt))

		fmt.Fprintln(w, "TIME\tTYPE\tCALL\tZONE\tPRESENT\tREPORTED")
		for _, call := range raid.Calls {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n", formatTime(call.Timestamp), call.CallType,
				call.Name, call.Zone, len(call.Players), call.ReportedCount)
		}
		w.Flush()
		fmt.Fprintln(out)

		if len(raid.Spends) > 0 {
			fmt.Fprintln(w, "TIME\tCHARACTER\tITEM\tDKP\tCALL")
			for _, s := range raid.Spends {
				call := "-"
				if s.Call != nil {
					call = s.Call.Name
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", formatTime(s.Timestamp), s.Character, s.Item, s.Amount, call)
			}
			w.Flush()
			fmt.Fprintln(out)
		}
	}

	if len(result.Unassigned) > 0 {
		fmt.Fprintln(out, "== Unassigned spends")
		fmt.Fprintln(w, "TIME\tCHARACTER\tITEM\tDKP")
		for _, s := range result.Unassigned {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", formatTime(s.Timestamp), s.Character, s.Item, s.Amount)
		}
		w.Flush()
		fmt.Fprintln(out)
	}

	if len(result.AfkRemovals) > 0 || len(result.CrashCredits) > 0 {
		fmt.Fprintln(out, "== Adjustments")
		for _, r := range result.AfkRemovals {
			fmt.Fprintf(w, "afk\t%s\t%s\t%s\n", r.Character, r.Call, formatTime(r.CallTime))
		}
		for _, c := range result.CrashCredits {
			how := "rejoined"
			if c.Reported {
				how = "reported"
			}
			fmt.Fprintf(w, "crash (%s)\t%s\t%s\t%s\n", how, c.Character, c.Call, formatTime(c.CallTime))
		}
		w.Flush()
		fmt.Fprintln(out)
	}

	return printAnomalies(out, result.Anomalies)
}

func printAnomalies(out io.Writer, anomalies []domain.Anomaly) error {
	if len(anomalies) == 0 {
		fmt.Fprintln(out, "No anomalies")
		return nil
	}
	sorted := append([]domain.Anomaly(nil), anomalies...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	fmt.Fprintf(out, "== %d anomalies\n", len(sorted))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tCHARACTER\tMESSAGE")
	for _, a := range sorted {
		msg := a.Message
		if a.Suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %s?)", a.Suggestion)
		}
		character := a.Character
		if character == "" {
			character = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", formatTime(a.Timestamp), a.Kind, character, msg)
	}
	return w.Flush()
}
