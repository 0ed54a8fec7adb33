package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Shared codecs; both are safe for concurrent EncodeAll/DecodeAll use
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// ArchiveRaidLog stores the raw log lines a raid was parsed from, zstd compressed
func (s *Store) ArchiveRaidLog(ctx context.Context, raidID int64, raw []byte) error {
	compressed := zstdEncoder.EncodeAll(raw, nil)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raid_logs (raid_id, compressed, raw_size)
		VALUES (?, ?, ?)
		ON CONFLICT(raid_id) DO UPDATE SET
			compressed = excluded.compressed,
			raw_size = excluded.raw_size
	`, raidID, compressed, len(raw))
	if err != nil {
		return fmt.Errorf("archiving raid log: %w", err)
	}
	return nil
}

// LoadRaidLog returns the archived raw log of a raid
func (s *Store) LoadRaidLog(ctx context.Context, raidID int64) ([]byte, error) {
	var compressed []byte
	var rawSize int
	err := s.db.QueryRowContext(ctx, `
		SELECT compressed, raw_size FROM raid_logs WHERE raid_id = ?
	`, raidID).Scan(&compressed, &rawSize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	raw, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, rawSize))
	if err != nil {
		return nil, fmt.Errorf("decompressing raid log: %w", err)
	}
	return raw, nil
}
