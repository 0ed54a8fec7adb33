package domain

import "time"

// AnomalyKind identifies a reconciliation problem worth an officer's attention
type AnomalyKind string

const (
	AnomalyMalformedLine      AnomalyKind = "malformed_line"
	AnomalyMissingPopulation  AnomalyKind = "missing_population"
	AnomalyPopulationMismatch AnomalyKind = "population_mismatch"
	AnomalyInvalidZone        AnomalyKind = "invalid_zone"
	AnomalyUnknownBoss        AnomalyKind = "unknown_boss"
	AnomalyMultipleCharacters AnomalyKind = "multiple_characters"
	AnomalyZeroDkp            AnomalyKind = "zero_dkp"
	AnomalyPossibleDuplicate  AnomalyKind = "possible_duplicate"
	AnomalyUnknownCharacter   AnomalyKind = "unknown_character"
	AnomalyNotInAttendance    AnomalyKind = "not_in_attendance"
	AnomalyUnassignedDkp      AnomalyKind = "unassigned_dkp"
	AnomalyTransferUnmatched  AnomalyKind = "transfer_unmatched"
	AnomalyAfkUnterminated    AnomalyKind = "afk_unterminated"
	AnomalyZealUnmatched      AnomalyKind = "zeal_unmatched"
)

// Anomaly describes one flagged problem
type Anomaly struct {
	Kind       AnomalyKind `json:"kind"`
	Timestamp  time.Time   `json:"timestamp"`
	Character  string      `json:"character,omitempty"`
	Item       string      `json:"item,omitempty"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
}
