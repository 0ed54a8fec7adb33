package zeal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/raidkeeper/internal/domain"
)

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		server  string
		want    time.Time
		wantErr bool
	}{
		{
			name:   "standard export",
			path:   "/eq/RaidRoster_teek-20240305-210211.txt",
			server: "teek",
			want:   time.Date(2024, 3, 5, 21, 2, 11, 0, time.Local),
		},
		{
			name:   "case insensitive prefix",
			path:   "raidroster_green-20231231-235959.TXT",
			server: "green",
			want:   time.Date(2023, 12, 31, 23, 59, 59, 0, time.Local),
		},
		{
			name:   "dotted server",
			path:   "RaidRoster_pq.proj-20240305-210211.txt",
			server: "pq.proj",
			want:   time.Date(2024, 3, 5, 21, 2, 11, 0, time.Local),
		},
		{name: "log file", path: "eqlog_Aradune_teek.txt", wantErr: true},
		{name: "no server", path: "RaidRoster_-20240305-210211.txt", wantErr: true},
		{name: "bad date", path: "RaidRoster_teek-20241345-210211.txt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, ts, err := ParseFileName(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.server, server)
			assert.True(t, tt.want.Equal(ts), "got %v want %v", ts, tt.want)
		})
	}
}

func TestParse(t *testing.T) {
	input := strings.Join([]string{
		"1\tAradune\t60\tWarrior\tRaid Leader\t\tYes",
		"1\tbrell\t58\tCleric\tGroup Leader",
		"",
		"2\tTunare\t60\tDruid\t",
		"2\tAradune\t60\tWarrior\t",
	}, "\r\n")

	members, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, domain.PlayerCharacter{Name: "Aradune", Level: 60, Class: "Warrior", Source: domain.SourceZeal}, members[0])
	assert.Equal(t, "Brell", members[1].Name)
	assert.Equal(t, "Druid", members[2].Class)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(strings.NewReader("1\tAradune\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = Parse(strings.NewReader("1\tAradune\tsixty\tWarrior\n"))
	assert.ErrorContains(t, err, "invalid level")
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "RaidRoster_teek-20240305-210211.txt")
	require.NoError(t, os.WriteFile(path, []byte("1\tAradune\t60\tWarrior\tRaid Leader\n"), 0644))

	roster, err := ParseFile(path, time.Time{})
	require.NoError(t, err)
	assert.True(t, roster.Timestamp.Equal(time.Date(2024, 3, 5, 21, 2, 11, 0, time.Local)))
	assert.Len(t, roster.Members, 1)

	override := time.Date(2024, 3, 5, 22, 0, 0, 0, time.Local)
	roster, err = ParseFile(path, override)
	require.NoError(t, err)
	assert.True(t, roster.Timestamp.Equal(override))

	other := filepath.Join(dir, "attendance.txt")
	require.NoError(t, os.WriteFile(other, []byte("1\tAradune\t60\tWarrior\n"), 0644))
	_, err = ParseFile(other, time.Time{})
	assert.Error(t, err)

	roster, err = ParseFile(other, override)
	require.NoError(t, err)
	assert.Len(t, roster.Members, 1)
}
