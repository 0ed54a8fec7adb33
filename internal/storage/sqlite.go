package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ernie/raidkeeper/internal/domain"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// Store provides database access
type Store struct {
	db *sql.DB
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// New creates a new Store with the given database path
func New(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign keys, WAL mode for better performance, and busy timeout for concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Character methods ---

// UpsertCharacters creates or updates roster characters in one transaction
func (s *Store) UpsertCharacters(ctx context.Context, chars []domain.Character) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range chars {
		if err := upsertCharacter(ctx, tx, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertCharacter(ctx context.Context, ex execer, c domain.Character) error {
	name := domain.NormalizeName(c.Name)
	account := domain.NormalizeName(c.Account)
	if account == "" {
		account = name
	}
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO characters (name, level, class, rank, account, is_alt, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			level = excluded.level,
			class = excluded.class,
			rank = excluded.rank,
			account = excluded.account,
			is_alt = excluded.is_alt,
			updated_at = excluded.updated_at
	`, name, c.Level, c.Class, nullString(c.Rank), account, boolToInt(c.IsAlt), formatTimestamp(updatedAt))
	if err != nil {
		return fmt.Errorf("upserting character %s: %w", name, err)
	}
	return nil
}

// ListCharacters returns all roster characters ordered by name
func (s *Store) ListCharacters(ctx context.Context) ([]domain.Character, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, level, class, rank, account, is_alt, updated_at FROM characters ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chars []domain.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		chars = append(chars, *c)
	}
	return chars, rows.Err()
}

// GetCharacter returns a roster character by name
func (s *Store) GetCharacter(ctx context.Context, name string) (*domain.Character, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, level, class, rank, account, is_alt, updated_at FROM characters WHERE name = ?
	`, domain.NormalizeName(name))
	c, err := scanCharacter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// Roster loads all characters as a lookup roster
func (s *Store) Roster(ctx context.Context) (domain.Roster, error) {
	chars, err := s.ListCharacters(ctx)
	if err != nil {
		return nil, err
	}
	return domain.NewRoster(chars), nil
}

// LinkCharacter makes alt belong to main's account. Characters already on the
// alt's account move along with it.
func (s *Store) LinkCharacter(ctx context.Context, alt, main string) error {
	alt = domain.NormalizeName(alt)
	main = domain.NormalizeName(main)
	if alt == main {
		return fmt.Errorf("cannot link %s to itself", alt)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var account string
	err = tx.QueryRowContext(ctx, "SELECT account FROM characters WHERE name = ?", main).Scan(&account)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("main character %s: %w", main, ErrNotFound)
	}
	if err != nil {
		return err
	}

	now := formatTimestamp(time.Now())
	res, err := tx.ExecContext(ctx, `
		UPDATE characters SET account = ?, is_alt = 1, updated_at = ? WHERE name = ?
	`, account, now, alt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO characters (name, account, is_alt, updated_at) VALUES (?, ?, 1, ?)
		`, alt, account, now); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE characters SET account = ?, updated_at = ? WHERE account = ?
	`, account, now, alt); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Raid methods ---

// SaveRaid stores a raid with its calls, spends and anomalies, assigning IDs
func (s *Store) SaveRaid(ctx context.Context, raid *domain.Raid) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertRaid(ctx, tx, raid); err != nil {
		return err
	}
	for _, call := range raid.Calls {
		if err := insertCall(ctx, tx, raid.ID, call); err != nil {
			return err
		}
	}
	for _, spend := range raid.Spends {
		if err := insertSpend(ctx, tx, raid.ID, spend); err != nil {
			return err
		}
	}
	for _, a := range raid.Anomalies {
		if err := insertAnomaly(ctx, tx, raid.ID, a); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateRaid stores an empty raid, used by the live collector
func (s *Store) CreateRaid(ctx context.Context, raid *domain.Raid) error {
	return insertRaid(ctx, s.db, raid)
}

// AddCall appends a call to an existing raid and extends the raid's time span
func (s *Store) AddCall(ctx context.Context, raid *domain.Raid, call *domain.AttendanceEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertCall(ctx, tx, raid.ID, call); err != nil {
		return err
	}
	raid.Calls = append(raid.Calls, call)
	if err := updateRaidSpan(ctx, tx, raid, call.Timestamp); err != nil {
		return err
	}
	return tx.Commit()
}

// AddSpend appends a spend to an existing raid
func (s *Store) AddSpend(ctx context.Context, raid *domain.Raid, spend *domain.DkpEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertSpend(ctx, tx, raid.ID, spend); err != nil {
		return err
	}
	raid.Spends = append(raid.Spends, spend)
	if err := updateRaidSpan(ctx, tx, raid, spend.Timestamp); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRaid(ctx context.Context, ex execer, raid *domain.Raid) error {
	if raid.UUID == "" {
		raid.UUID = uuid.NewString()
	}
	res, err := ex.ExecContext(ctx, `
		INSERT INTO raids (uuid, name, zone, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?)
	`, raid.UUID, raid.Name, nullString(raid.Zone), formatTimestamp(raid.StartedAt), formatTimestamp(raid.EndedAt))
	if err != nil {
		return fmt.Errorf("inserting raid: %w", err)
	}
	raid.ID, err = res.LastInsertId()
	return err
}

func insertCall(ctx context.Context, ex execer, raidID int64, call *domain.AttendanceEntry) error {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO attendance_calls (raid_id, call_type, name, timestamp, speaker, zone, reported_count, complete)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, raidID, string(call.CallType), call.Name, formatTimestamp(call.Timestamp), nullString(call.Speaker),
		nullString(call.Zone), call.ReportedCount, boolToInt(call.Complete))
	if err != nil {
		return fmt.Errorf("inserting call %q: %w", call.Name, err)
	}
	if call.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	for _, p := range call.Players {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO attendance (call_id, character, level, class, race, guild, anonymous, afk, link_dead, source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(call_id, character) DO NOTHING
		`, call.ID, p.Name, p.Level, nullString(p.Class), nullString(p.Race), nullString(p.Guild),
			boolToInt(p.Anonymous), boolToInt(p.AFK), boolToInt(p.LinkDead), p.Source)
		if err != nil {
			return fmt.Errorf("inserting attendance for %s: %w", p.Name, err)
		}
	}
	return nil
}

func insertSpend(ctx context.Context, ex execer, raidID int64, spend *domain.DkpEntry) error {
	var callID *int64
	if spend.Call != nil && spend.Call.ID > 0 {
		spend.CallID = spend.Call.ID
	}
	if spend.CallID > 0 {
		callID = &spend.CallID
	}
	res, err := ex.ExecContext(ctx, `
		INSERT INTO dkp_spends (raid_id, call_id, timestamp, speaker, character, item, amount, transferred_from)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, raidID, callID, formatTimestamp(spend.Timestamp), nullString(spend.Speaker), spend.Character,
		spend.Item, spend.Amount, nullString(spend.TransferredFrom))
	if err != nil {
		return fmt.Errorf("inserting spend of %s: %w", spend.Item, err)
	}
	spend.ID, err = res.LastInsertId()
	return err
}

func insertAnomaly(ctx context.Context, ex execer, raidID int64, a domain.Anomaly) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO raid_anomalies (raid_id, kind, timestamp, character, item, message, suggestion)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, raidID, string(a.Kind), formatTimestamp(a.Timestamp), nullString(a.Character), nullString(a.Item),
		a.Message, nullString(a.Suggestion))
	if err != nil {
		return fmt.Errorf("inserting anomaly: %w", err)
	}
	return nil
}

func updateRaidSpan(ctx context.Context, ex execer, raid *domain.Raid, ts time.Time) error {
	if raid.StartedAt.IsZero() || ts.Before(raid.StartedAt) {
		raid.StartedAt = ts
	}
	if ts.After(raid.EndedAt) {
		raid.EndedAt = ts
	}
	_, err := ex.ExecContext(ctx, `
		UPDATE raids SET started_at = ?, ended_at = ?, zone = COALESCE(zone, ?) WHERE id = ?
	`, formatTimestamp(raid.StartedAt), formatTimestamp(raid.EndedAt), nullString(raid.Zone), raid.ID)
	return err
}

// GetRaids returns raid summaries, most recent first
func (s *Store) GetRaids(ctx context.Context, limit int) ([]domain.RaidSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.uuid, r.name, r.zone, r.started_at, r.ended_at, r.uploaded_at,
			(SELECT COUNT(*) FROM attendance_calls c WHERE c.raid_id = r.id),
			(SELECT COUNT(*) FROM dkp_spends d WHERE d.raid_id = r.id),
			(SELECT COALESCE(SUM(d.amount), 0) FROM dkp_spends d WHERE d.raid_id = r.id)
		FROM raids r
		ORDER BY r.started_at DESC, r.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raids []domain.RaidSummary
	for rows.Next() {
		r, err := scanRaidSummary(rows)
		if err != nil {
			return nil, err
		}
		raids = append(raids, *r)
	}
	return raids, rows.Err()
}

// GetRaid loads a raid with its calls, attendance, spends and anomalies
func (s *Store) GetRaid(ctx context.Context, id int64) (*domain.Raid, error) {
	raid, err := scanRaid(s.db.QueryRowContext(ctx, `
		SELECT id, uuid, name, zone, started_at, ended_at, uploaded_at, remote_id FROM raids WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadCalls(ctx, raid); err != nil {
		return nil, err
	}
	if err := s.loadSpends(ctx, raid); err != nil {
		return nil, err
	}
	if err := s.loadAnomalies(ctx, raid); err != nil {
		return nil, err
	}
	return raid, nil
}

func (s *Store) loadCalls(ctx context.Context, raid *domain.Raid) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, call_type, name, timestamp, speaker, zone, reported_count, complete
		FROM attendance_calls WHERE raid_id = ? ORDER BY timestamp, id
	`, raid.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	byID := make(map[int64]*domain.AttendanceEntry)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return err
		}
		raid.Calls = append(raid.Calls, call)
		byID[call.ID] = call
	}
	if err := rows.Err(); err != nil {
		return err
	}

	prows, err := s.db.QueryContext(ctx, `
		SELECT a.call_id, a.character, a.level, a.class, a.race, a.guild, a.anonymous, a.afk, a.link_dead, a.source
		FROM attendance a JOIN attendance_calls c ON c.id = a.call_id
		WHERE c.raid_id = ? ORDER BY a.call_id, a.character
	`, raid.ID)
	if err != nil {
		return err
	}
	defer prows.Close()

	for prows.Next() {
		callID, pc, err := scanAttendee(prows)
		if err != nil {
			return err
		}
		if call, ok := byID[callID]; ok {
			call.Players = append(call.Players, *pc)
		}
	}
	return prows.Err()
}

func (s *Store) loadSpends(ctx context.Context, raid *domain.Raid) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, call_id, timestamp, speaker, character, item, amount, transferred_from
		FROM dkp_spends WHERE raid_id = ? ORDER BY timestamp, id
	`, raid.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		spend, err := scanSpend(rows)
		if err != nil {
			return err
		}
		for _, call := range raid.Calls {
			if call.ID == spend.CallID {
				spend.Call = call
				break
			}
		}
		raid.Spends = append(raid.Spends, spend)
	}
	return rows.Err()
}

func (s *Store) loadAnomalies(ctx context.Context, raid *domain.Raid) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, timestamp, character, item, message, suggestion
		FROM raid_anomalies WHERE raid_id = ? ORDER BY timestamp, id
	`, raid.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return err
		}
		raid.Anomalies = append(raid.Anomalies, *a)
	}
	return rows.Err()
}

// MarkRaidUploaded records the remote raid ID assigned by the DKP server
func (s *Store) MarkRaidUploaded(ctx context.Context, id int64, remoteID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE raids SET uploaded_at = ?, remote_id = ? WHERE id = ?
	`, formatTimestamp(at), remoteID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AttendanceRatio returns the share of calls in [since, until] in which
// any of the account's characters was present
func (s *Store) AttendanceRatio(ctx context.Context, account string, since, until time.Time) (float64, error) {
	account = domain.NormalizeName(account)
	from, to := formatTimestamp(since), formatTimestamp(until)

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_calls WHERE timestamp >= ? AND timestamp <= ?
	`, from, to).Scan(&total); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}

	var attended int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT c.id)
		FROM attendance_calls c
		JOIN attendance a ON a.call_id = c.id
		LEFT JOIN characters ch ON ch.name = a.character
		WHERE c.timestamp >= ? AND c.timestamp <= ? AND COALESCE(ch.account, a.character) = ?
	`, from, to, account).Scan(&attended); err != nil {
		return 0, err
	}
	return float64(attended) / float64(total), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
