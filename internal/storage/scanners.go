package storage

import (
	"database/sql"
	"time"

	"github.com/ernie/raidkeeper/internal/domain"
)

// Null scanner helpers - reduce repetitive nil-checking code

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

func scanNullInt64Value(ni sql.NullInt64) int64 {
	if ni.Valid {
		return ni.Int64
	}
	return 0
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanCharacter scans a characters row
func scanCharacter(s scanner) (*domain.Character, error) {
	var c domain.Character
	var rank sql.NullString
	err := s.Scan(&c.Name, &c.Level, &c.Class, &rank, &c.Account, &c.IsAlt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Rank = scanNullStringValue(rank)
	return &c, nil
}

// scanRaid scans a raids row without its children
func scanRaid(s scanner) (*domain.Raid, error) {
	var r domain.Raid
	var zone, remoteID sql.NullString
	var uploadedAt sql.NullTime
	err := s.Scan(&r.ID, &r.UUID, &r.Name, &zone, &r.StartedAt, &r.EndedAt, &uploadedAt, &remoteID)
	if err != nil {
		return nil, err
	}
	r.Zone = scanNullStringValue(zone)
	r.RemoteID = scanNullStringValue(remoteID)
	r.UploadedAt = scanNullTime(uploadedAt)
	return &r, nil
}

// scanRaidSummary scans a raid listing row with its aggregate counts
func scanRaidSummary(s scanner) (*domain.RaidSummary, error) {
	var r domain.RaidSummary
	var zone sql.NullString
	var uploadedAt sql.NullTime
	err := s.Scan(&r.ID, &r.UUID, &r.Name, &zone, &r.StartedAt, &r.EndedAt, &uploadedAt,
		&r.CallCount, &r.SpendCount, &r.TotalDkp)
	if err != nil {
		return nil, err
	}
	r.Zone = scanNullStringValue(zone)
	r.UploadedAt = scanNullTime(uploadedAt)
	return &r, nil
}

// scanCall scans an attendance_calls row
func scanCall(s scanner) (*domain.AttendanceEntry, error) {
	var c domain.AttendanceEntry
	var callType string
	var speaker, zone sql.NullString
	err := s.Scan(&c.ID, &callType, &c.Name, &c.Timestamp, &speaker, &zone, &c.ReportedCount, &c.Complete)
	if err != nil {
		return nil, err
	}
	c.CallType = domain.CallType(callType)
	c.Speaker = scanNullStringValue(speaker)
	c.Zone = scanNullStringValue(zone)
	return &c, nil
}

// scanAttendee scans an attendance row and returns its call ID with the character
func scanAttendee(s scanner) (int64, *domain.PlayerCharacter, error) {
	var callID int64
	var pc domain.PlayerCharacter
	var class, race, guild sql.NullString
	err := s.Scan(&callID, &pc.Name, &pc.Level, &class, &race, &guild,
		&pc.Anonymous, &pc.AFK, &pc.LinkDead, &pc.Source)
	if err != nil {
		return 0, nil, err
	}
	pc.Class = scanNullStringValue(class)
	pc.Race = scanNullStringValue(race)
	pc.Guild = scanNullStringValue(guild)
	return callID, &pc, nil
}

// scanSpend scans a dkp_spends row
func scanSpend(s scanner) (*domain.DkpEntry, error) {
	var d domain.DkpEntry
	var callID sql.NullInt64
	var speaker, transferredFrom sql.NullString
	err := s.Scan(&d.ID, &callID, &d.Timestamp, &speaker, &d.Character, &d.Item, &d.Amount, &transferredFrom)
	if err != nil {
		return nil, err
	}
	d.CallID = scanNullInt64Value(callID)
	d.Speaker = scanNullStringValue(speaker)
	d.TransferredFrom = scanNullStringValue(transferredFrom)
	return &d, nil
}

// scanAnomaly scans a raid_anomalies row
func scanAnomaly(s scanner) (*domain.Anomaly, error) {
	var a domain.Anomaly
	var kind string
	var character, item, suggestion sql.NullString
	err := s.Scan(&kind, &a.Timestamp, &character, &item, &a.Message, &suggestion)
	if err != nil {
		return nil, err
	}
	a.Kind = domain.AnomalyKind(kind)
	a.Character = scanNullStringValue(character)
	a.Item = scanNullStringValue(item)
	a.Suggestion = scanNullStringValue(suggestion)
	return &a, nil
}

// scanOfficer scans an officers row
func scanOfficer(s scanner) (*Officer, error) {
	var o Officer
	var lastLogin sql.NullTime
	if err := s.Scan(&o.ID, &o.Name, &o.PasswordHash, &o.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	o.LastLogin = scanNullTime(lastLogin)
	return &o, nil
}
