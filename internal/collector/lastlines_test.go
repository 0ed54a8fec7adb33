package collector

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLastLines(t *testing.T) {
	dir := t.TempDir()

	var b strings.Builder
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&b, "line %04d %s\r\n", i, strings.Repeat("x", 20))
	}
	long := filepath.Join(dir, "long.txt")
	require.NoError(t, os.WriteFile(long, []byte(b.String()), 0644))

	noNewline := filepath.Join(dir, "partial.txt")
	require.NoError(t, os.WriteFile(noNewline, []byte("a\nb\nc"), 0644))

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0644))

	tests := []struct {
		name  string
		path  string
		n     int
		first string
		count int
	}{
		{"spans several blocks", long, 200, "line 0800 " + strings.Repeat("x", 20), 200},
		{"more than the file", long, 5000, "line 0000 " + strings.Repeat("x", 20), 1000},
		{"last line unterminated", noNewline, 2, "b", 2},
		{"whole short file", noNewline, 10, "a", 3},
		{"empty file", empty, 10, "", 0},
		{"zero lines", long, 0, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := ReadLastLines(tt.path, tt.n)
			require.NoError(t, err)
			require.Len(t, lines, tt.count)
			if tt.count > 0 {
				assert.Equal(t, tt.first, lines[0])
			}
		})
	}

	lines, err := ReadLastLines(noNewline, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, lines)

	_, err = ReadLastLines(filepath.Join(dir, "missing.txt"), 10)
	assert.Error(t, err)
}
