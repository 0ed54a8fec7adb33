package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Aradune", NormalizeName("  aRADUNE "))
	assert.Equal(t, "", NormalizeName("   "))
	assert.Equal(t, "cloak of flames", NormalizeItem("  Cloak  of\tFlames "))
}

func TestAttendanceEntry_Players(t *testing.T) {
	call := &AttendanceEntry{}
	assert.True(t, call.Add(PlayerCharacter{Name: "brell"}))
	assert.True(t, call.Add(PlayerCharacter{Name: "Aradune"}))
	assert.False(t, call.Add(PlayerCharacter{Name: "BRELL"}), "duplicates are ignored")
	assert.False(t, call.Add(PlayerCharacter{Name: " "}))

	assert.True(t, call.Has("aradune"))
	assert.Equal(t, []string{"Aradune", "Brell"}, call.Names())

	assert.True(t, call.Remove("Brell"))
	assert.False(t, call.Remove("Brell"))
	assert.Equal(t, []string{"Aradune"}, call.Names())
}

func TestAfkEntry_Covers(t *testing.T) {
	start := time.Date(2024, 3, 5, 21, 0, 0, 0, time.UTC)
	closed := AfkEntry{Character: "Brell", Start: start, End: start.Add(10 * time.Minute)}
	open := AfkEntry{Character: "Brell", Start: start}

	assert.False(t, closed.Open())
	assert.True(t, open.Open())

	assert.False(t, closed.Covers(start.Add(-time.Second)))
	assert.True(t, closed.Covers(start))
	assert.True(t, closed.Covers(start.Add(10*time.Minute)))
	assert.False(t, closed.Covers(start.Add(11*time.Minute)))
	assert.True(t, open.Covers(start.Add(24*time.Hour)))
}

func TestRoster(t *testing.T) {
	r := NewRoster([]Character{
		{Name: "Brell", Account: "Brell"},
		{Name: "brellalt", Account: "brell", IsAlt: true},
		{Name: "Tunare"},
	})

	c, ok := r.Lookup("BRELLALT")
	assert.True(t, ok)
	assert.True(t, c.IsAlt)

	assert.Equal(t, "Brell", r.AccountOf("Brellalt"))
	assert.Equal(t, "Tunare", r.AccountOf("tunare"), "empty account falls back to the name")
	assert.Equal(t, "Stranger", r.AccountOf("stranger"))
	assert.Equal(t, []string{"Brell", "Brellalt", "Tunare"}, r.Names())
}

func TestEntryType_IsCall(t *testing.T) {
	assert.True(t, EntryAttendance.IsCall())
	assert.True(t, EntryKill.IsCall())
	assert.False(t, EntryDkpSpent.IsCall())
}
