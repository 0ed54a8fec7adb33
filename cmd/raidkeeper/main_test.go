package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/raidkeeper/internal/analyzer"
	"github.com/ernie/raidkeeper/internal/collector"
	"github.com/ernie/raidkeeper/internal/domain"
	"github.com/ernie/raidkeeper/internal/storage"
)

func TestParseTimeFlag(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"", time.Time{}},
		{"2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.Local)},
		{"2024-03-05 20:30", time.Date(2024, 3, 5, 20, 30, 0, 0, time.Local)},
		{"2024-03-05T20:30:15", time.Date(2024, 3, 5, 20, 30, 15, 0, time.Local)},
	}
	for _, tt := range tests {
		got, err := parseTimeFlag(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %v", tt.in, got)
	}

	_, err := parseTimeFlag("last tuesday")
	assert.Error(t, err)
}

func TestRaidLogLines(t *testing.T) {
	base := time.Date(2024, 3, 5, 20, 0, 0, 0, time.Local)
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteString(collector.FormatTimestamp(base.Add(time.Duration(i)*time.Minute)) + " line\n")
	}
	b.WriteString("no timestamp here\n")
	path := filepath.Join(t.TempDir(), "eqlog_Aradune_teek.txt")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))

	raw, err := raidLogLines([]string{path}, base.Add(time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Len(t, lines, 3)

	_, err = raidLogLines([]string{filepath.Join(t.TempDir(), "missing.txt")}, base, base)
	assert.Error(t, err)
}

func TestResumableRaid(t *testing.T) {
	ctx := context.Background()
	store, err := storage.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()

	now := time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC)
	got, err := resumableRaid(ctx, store, 4*time.Hour, now)
	require.NoError(t, err)
	assert.Nil(t, got)

	raid := &domain.Raid{Name: "Plane of Fear 2024-03-05", StartedAt: now.Add(-3 * time.Hour), EndedAt: now.Add(-time.Hour)}
	require.NoError(t, store.SaveRaid(ctx, raid))

	got, err = resumableRaid(ctx, store, 4*time.Hour, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, raid.ID, got.ID)

	got, err = resumableRaid(ctx, store, 30*time.Minute, now)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.MarkRaidUploaded(ctx, raid.ID, "remote-1", now))
	got, err = resumableRaid(ctx, store, 4*time.Hour, now)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPrintReport(t *testing.T) {
	start := time.Date(2024, 3, 5, 20, 0, 0, 0, time.Local)
	kill := &domain.AttendanceEntry{CallType: domain.CallKill, Name: "Cazic Thule", Timestamp: start, Zone: "Plane of Fear",
		Players: []domain.PlayerCharacter{{Name: "Aradune"}}}
	result := &analyzer.Result{
		Raids: []*domain.Raid{{
			Name: "Plane of Fear 2024-03-05", StartedAt: start, EndedAt: start,
			Calls:  []*domain.AttendanceEntry{kill},
			Spends: []*domain.DkpEntry{{Timestamp: start, Character: "Aradune", Item: "Cloak", Amount: 30, Call: kill}},
		}},
		Anomalies: []domain.Anomaly{{Kind: domain.AnomalyUnknownCharacter, Timestamp: start, Character: "Aradne",
			Message: "Aradne is not in the roster", Suggestion: "Aradune"}},
	}

	var out bytes.Buffer
	require.NoError(t, printReport(&out, &collector.ParseResult{Lines: 10, Start: start, End: start}, result))
	text := out.String()
	assert.Contains(t, text, "== Plane of Fear 2024-03-05")
	assert.Contains(t, text, "Cazic Thule")
	assert.Contains(t, text, "Cloak")
	assert.Contains(t, text, "did you mean Aradune?")

	out.Reset()
	require.NoError(t, printAnomalies(&out, nil))
	assert.Equal(t, "No anomalies\n", out.String())
}
