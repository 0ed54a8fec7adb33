package roster

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMainFromNote(t *testing.T) {
	tests := []struct {
		note string
		want string
	}{
		{"main: aradune", "Aradune"},
		{"Main=Aradune", "Aradune"},
		{"main - aradune", "Aradune"},
		{"main Brell", "Brell"},
		{"Maintank, ask first", ""},
		{"backup maintank for CT", ""},
		{"alt of Brell", "Brell"},
		{"bard alt for tunare", "Tunare"},
		{"Aradune", "Aradune"},
		{"", ""},
		{"raid tank, ask first", ""},
		{"Al", ""},
	}
	for _, tt := range tests {
		t.Run(tt.note, func(t *testing.T) {
			assert.Equal(t, tt.want, MainFromNote(tt.note))
		})
	}
}

func TestParse(t *testing.T) {
	updated := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	dump := strings.Join([]string{
		"Aradune\t60\tWarrior\tOfficer\t\t03/05/24\tPlane of Fear\tRaid leader\t\toff\toff",
		"Brell\t60\tCleric\tMember\t\t03/04/24\tPlane of Hate\t\t",
		"Tunare\t52\tDruid\tMember\tA\t03/01/24\tKaladim\tmain: brell",
		"Orphan\t10\tRogue\tMember\tA\t03/01/24\tQeynos\talt of Nobody",
	}, "\n")

	chars, err := Parse(strings.NewReader(dump), updated)
	require.NoError(t, err)
	require.Len(t, chars, 4)

	assert.Equal(t, "Aradune", chars[0].Account)
	assert.Equal(t, "Officer", chars[0].Rank)
	assert.False(t, chars[0].IsAlt)
	assert.Equal(t, updated, chars[0].UpdatedAt)

	assert.Equal(t, "Tunare", chars[2].Name)
	assert.True(t, chars[2].IsAlt)
	assert.Equal(t, "Brell", chars[2].Account)

	// Alt of a character missing from the dump stays on its own account
	assert.True(t, chars[3].IsAlt)
	assert.Equal(t, "Orphan", chars[3].Account)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(strings.NewReader("Aradune\t60\n"), time.Now())
	assert.ErrorContains(t, err, "line 1")

	_, err = Parse(strings.NewReader("Aradune\tsixty\tWarrior\tOfficer\t\n"), time.Now())
	assert.ErrorContains(t, err, "invalid level")
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Legends_teek-20240305-120000.txt")
	require.NoError(t, os.WriteFile(path, []byte("Aradune\t60\tWarrior\tOfficer\t\n"), 0644))

	chars, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, chars, 1)
	assert.False(t, chars[0].UpdatedAt.IsZero())

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
