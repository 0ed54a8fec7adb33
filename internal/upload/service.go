package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ernie/raidkeeper/internal/config"
	"github.com/ernie/raidkeeper/internal/domain"
)

// ErrAlreadyUploaded is returned when a raid was uploaded before and the
// upload is not forced
var ErrAlreadyUploaded = errors.New("raid already uploaded")

// Store is the storage the upload flow reads raids from and records results in
type Store interface {
	AttendanceSource
	GetRaid(ctx context.Context, id int64) (*domain.Raid, error)
	Roster(ctx context.Context) (domain.Roster, error)
	MarkRaidUploaded(ctx context.Context, id int64, remoteID string, at time.Time) error
}

// Poster sends a built document to the DKP server
type Poster interface {
	Upload(ctx context.Context, info *Info) (string, error)
}

// Result describes a finished upload
type Result struct {
	Raid     *domain.Raid
	Info     *Info
	RemoteID string
}

// Service runs the load, build, post and record steps of an upload
type Service struct {
	store   Store
	builder *Builder
	poster  Poster
	now     func() time.Time
}

// NewService creates an upload service. poster may be nil for dry runs.
func NewService(store Store, rules []config.DiscountConfig, poster Poster) *Service {
	return &Service{
		store:   store,
		builder: NewBuilder(rules, store),
		poster:  poster,
		now:     time.Now,
	}
}

// Prepare loads a raid and builds its upload document without sending it
func (s *Service) Prepare(ctx context.Context, raidID int64) (*domain.Raid, *Info, error) {
	raid, err := s.store.GetRaid(ctx, raidID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading raid %d: %w", raidID, err)
	}
	roster, err := s.store.Roster(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading roster: %w", err)
	}
	info, err := s.builder.BuildUploadInfo(ctx, raid, roster)
	if err != nil {
		return nil, nil, err
	}
	return raid, info, nil
}

// Upload builds and posts a raid, then stores the remote id
func (s *Service) Upload(ctx context.Context, raidID int64, force bool) (*Result, error) {
	if s.poster == nil {
		return nil, fmt.Errorf("uploading is not configured")
	}
	raid, info, err := s.Prepare(ctx, raidID)
	if err != nil {
		return nil, err
	}
	if raid.UploadedAt != nil && !force {
		return nil, fmt.Errorf("raid %d (remote %s): %w", raidID, raid.RemoteID, ErrAlreadyUploaded)
	}

	remoteID, err := s.poster.Upload(ctx, info)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkRaidUploaded(ctx, raidID, remoteID, s.now()); err != nil {
		return nil, fmt.Errorf("recording upload of raid %d: %w", raidID, err)
	}
	return &Result{Raid: raid, Info: info, RemoteID: remoteID}, nil
}
