package upload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/raidkeeper/internal/domain"
)

type fakeStore struct {
	fakeAttendance
	raid     *domain.Raid
	marked   string
	markedAt time.Time
}

func (f *fakeStore) GetRaid(_ context.Context, id int64) (*domain.Raid, error) {
	if f.raid == nil || f.raid.ID != id {
		return nil, errors.New("not found")
	}
	return f.raid, nil
}

func (f *fakeStore) Roster(context.Context) (domain.Roster, error) {
	return domain.Roster{}, nil
}

func (f *fakeStore) MarkRaidUploaded(_ context.Context, _ int64, remoteID string, at time.Time) error {
	f.marked = remoteID
	f.markedAt = at
	return nil
}

type fakePoster struct {
	got *Info
	id  string
	err error
}

func (p *fakePoster) Upload(_ context.Context, info *Info) (string, error) {
	p.got = info
	return p.id, p.err
}

func TestService_Upload(t *testing.T) {
	store := &fakeStore{raid: testRaid()}
	poster := &fakePoster{id: "remote-1"}
	svc := NewService(store, nil, poster)

	res, err := svc.Upload(context.Background(), 7, false)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", res.RemoteID)
	assert.Equal(t, "remote-1", store.marked)
	assert.False(t, store.markedAt.IsZero())
	require.NotNil(t, poster.got)
	assert.Len(t, poster.got.Items, 3)
}

func TestService_UploadAlreadyUploaded(t *testing.T) {
	raid := testRaid()
	at := start.Add(24 * time.Hour)
	raid.UploadedAt = &at
	raid.RemoteID = "remote-0"
	store := &fakeStore{raid: raid}
	poster := &fakePoster{id: "remote-2"}
	svc := NewService(store, nil, poster)

	_, err := svc.Upload(context.Background(), 7, false)
	assert.ErrorIs(t, err, ErrAlreadyUploaded)
	assert.Nil(t, poster.got)

	res, err := svc.Upload(context.Background(), 7, true)
	require.NoError(t, err)
	assert.Equal(t, "remote-2", res.RemoteID)
}

func TestService_UploadFailures(t *testing.T) {
	store := &fakeStore{raid: testRaid()}
	svc := NewService(store, nil, &fakePoster{err: &StatusError{StatusCode: 500, Body: "boom"}})
	_, err := svc.Upload(context.Background(), 7, false)
	var se *StatusError
	assert.True(t, errors.As(err, &se))
	assert.Empty(t, store.marked)

	_, err = svc.Upload(context.Background(), 8, false)
	assert.Error(t, err)

	_, err = NewService(store, nil, nil).Upload(context.Background(), 7, false)
	assert.Error(t, err)

	_, info, err := NewService(store, nil, nil).Prepare(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Plane of Fear 2024-03-05", info.Name)
}
