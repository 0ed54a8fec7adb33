package collector

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func appendTo(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func nextLine(t *testing.T, tl *LogTailer) string {
	t.Helper()
	select {
	case l := <-tl.Lines:
		return l
	case err := <-tl.Errors:
		t.Fatalf("tailer error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
	}
	return ""
}

func assertNoLine(t *testing.T, tl *LogTailer) {
	t.Helper()
	select {
	case l := <-tl.Lines:
		t.Fatalf("unexpected line %q", l)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLogTailer_FollowsNewLines(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "eqlog_Aradune_teek.txt")
	require.NoError(t, os.WriteFile(path, []byte(line(0, "old")+"\n"), 0644))

	tl := NewLogTailer(path, 10*time.Millisecond)
	require.NoError(t, tl.Start())
	defer tl.Stop()

	assertNoLine(t, tl)

	appendTo(t, path, line(1, "first")+"\r\n")
	assert.Equal(t, line(1, "first"), nextLine(t, tl))

	// A partial line waits for its newline
	appendTo(t, path, line(2, "sec"))
	assertNoLine(t, tl)
	appendTo(t, path, "ond\n")
	assert.Equal(t, line(2, "second"), nextLine(t, tl))
}

func TestLogTailer_Truncate(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "eqlog_Aradune_teek.txt")
	require.NoError(t, os.WriteFile(path, []byte(line(0, "a fairly long line that was already there")+"\n"), 0644))

	tl := NewLogTailer(path, 10*time.Millisecond)
	require.NoError(t, tl.Start())
	defer tl.Stop()

	require.NoError(t, os.Truncate(path, 0))
	appendTo(t, path, line(5, "after")+"\n")
	assert.Equal(t, line(5, "after"), nextLine(t, tl))
}

func TestLogTailer_ReplayFrom(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "eqlog_Aradune_teek.txt")
	content := line(0, "one") + "\n" + line(10, "two") + "\n\n" + line(20, "three") + "\n" + line(30, "part")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tl := NewLogTailer(path, 10*time.Millisecond)
	type seen struct {
		line   string
		replay bool
	}
	var got []seen
	require.NoError(t, tl.ReplayFrom(base.Add(10*time.Second), func(l string, replay bool) {
		got = append(got, seen{l, replay})
	}))
	assert.Equal(t, []seen{
		{line(0, "one"), true},
		{line(10, "two"), true},
		{line(20, "three"), false},
	}, got)

	// Tailing resumes at the unfinished line
	require.NoError(t, tl.Start())
	defer tl.Stop()
	appendTo(t, path, "ial\n")
	assert.Equal(t, line(30, "partial"), nextLine(t, tl))
}

func TestLogTailer_MissingFile(t *testing.T) {
	tl := NewLogTailer(filepath.Join(t.TempDir(), "missing.txt"), 0)
	assert.Error(t, tl.Start())
	assert.Error(t, tl.ReplayFrom(time.Time{}, func(string, bool) {}))
	tl.Stop()
}
