package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seidata/curator/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testNetwork() types.Network {
	return types.Network{
		Code:  "XX",
		Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newRecord(station, hash string, status types.Status) *types.FileRecord {
	now := time.Now().UTC()
	return &types.FileRecord{
		ID:           uuid.New().String(),
		Network:      testNetwork(),
		Station:      station,
		Hash:         hash,
		Path:         "XX/" + station + "/" + hash,
		ChannelCount: 3,
		SizeBytes:    1024,
		SubmitterID:  "user-1",
		Status:       status,
		Created:      now,
		Modified:     now,
	}
}

func TestInsertAndGet(t *testing.T) {
	store := newTestStore(t)

	rec := newRecord("STA01", "aaaa", types.StatusPending)
	require.NoError(t, store.InsertFile(rec))

	got, err := store.GetFile(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Hash, got.Hash)
	assert.Equal(t, types.StatusPending, got.Status)
}

func TestInsertDuplicateActive(t *testing.T) {
	store := newTestStore(t)

	first := newRecord("STA01", "aaaa", types.StatusPending)
	require.NoError(t, store.InsertFile(first))

	// Same hash while the first record is active must be refused.
	second := newRecord("STA01", "aaaa", types.StatusPending)
	err := store.InsertFile(second)
	assert.ErrorIs(t, err, ErrDuplicateActive)

	// Once the first record is retired the hash may return.
	require.NoError(t, store.Transition(first.ID, types.StatusPending, types.StatusDeleted, TransitionOpts{}))
	assert.NoError(t, store.InsertFile(second))
}

func TestInsertAfterRejection(t *testing.T) {
	store := newTestStore(t)

	first := newRecord("STA01", "aaaa", types.StatusRejected)
	require.NoError(t, store.InsertFile(first))

	// Rejected records do not block resubmission of the same bytes.
	second := newRecord("STA01", "aaaa", types.StatusPending)
	assert.NoError(t, store.InsertFile(second))
}

func TestTransitionConflict(t *testing.T) {
	store := newTestStore(t)

	rec := newRecord("STA01", "aaaa", types.StatusPending)
	require.NoError(t, store.InsertFile(rec))

	require.NoError(t, store.Transition(rec.ID, types.StatusPending, types.StatusValidated, TransitionOpts{}))

	// Re-running the same transition must conflict.
	err := store.Transition(rec.ID, types.StatusPending, types.StatusValidated, TransitionOpts{})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := store.GetFile(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusValidated, got.Status)
}

func TestTransitionStampsFields(t *testing.T) {
	store := newTestStore(t)

	rec := newRecord("STA01", "aaaa", types.StatusPending)
	require.NoError(t, store.InsertFile(rec))

	require.NoError(t, store.Transition(rec.ID, types.StatusPending, types.StatusRejected, TransitionOpts{
		Error: "GainMismatch",
	}))

	got, err := store.GetFile(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, got.Status)
	assert.Equal(t, "GainMismatch", got.Error)
	assert.True(t, got.Modified.After(rec.Modified) || got.Modified.Equal(rec.Modified))

	available := time.Now().UTC()
	accepted := newRecord("STA02", "bbbb", types.StatusAccepted)
	require.NoError(t, store.InsertFile(accepted))
	require.NoError(t, store.Transition(accepted.ID, types.StatusAccepted, types.StatusCompleted, TransitionOpts{
		Available: &available,
	}))

	got, err = store.GetFile(accepted.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Available)
	assert.WithinDuration(t, available, *got.Available, time.Second)
}

func TestClaimNext(t *testing.T) {
	store := newTestStore(t)

	older := newRecord("STA01", "aaaa", types.StatusPending)
	older.Modified = time.Now().Add(-time.Hour)
	require.NoError(t, store.InsertFile(older))

	newer := newRecord("STA02", "bbbb", types.StatusPending)
	require.NoError(t, store.InsertFile(newer))

	// Oldest modified comes first.
	first, releaseFirst, err := store.ClaimNext([]types.Status{types.StatusPending})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, older.ID, first.ID)

	// A claimed record is invisible to a second claimer.
	second, releaseSecond, err := store.ClaimNext([]types.Status{types.StatusPending})
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, newer.ID, second.ID)

	third, _, err := store.ClaimNext([]types.Status{types.StatusPending})
	require.NoError(t, err)
	assert.Nil(t, third)

	// Releasing makes the record claimable again.
	releaseFirst()
	releaseSecond()
	again, release, err := store.ClaimNext([]types.Status{types.StatusPending})
	require.NoError(t, err)
	require.NotNil(t, again)
	release()
}

func TestListStationNewestFirst(t *testing.T) {
	store := newTestStore(t)

	older := newRecord("STA01", "aaaa", types.StatusCompleted)
	older.Created = time.Now().Add(-time.Hour)
	require.NoError(t, store.InsertFile(older))

	newer := newRecord("STA01", "bbbb", types.StatusPending)
	require.NoError(t, store.InsertFile(newer))

	records, err := store.ListStation(testNetwork(), "STA01")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, newer.ID, records[0].ID)
	assert.Equal(t, older.ID, records[1].ID)
}

func TestAcceptedSet(t *testing.T) {
	store := newTestStore(t)

	completed := newRecord("STA01", "aaaa", types.StatusCompleted)
	completed.Created = time.Now().Add(-time.Hour)
	require.NoError(t, store.InsertFile(completed))

	pending := newRecord("STA02", "bbbb", types.StatusPending)
	require.NoError(t, store.InsertFile(pending))

	accepted := newRecord("STA03", "cccc", types.StatusAccepted)
	require.NoError(t, store.InsertFile(accepted))

	set, err := store.AcceptedSet()
	require.NoError(t, err)
	require.Len(t, set, 2)
	assert.Equal(t, "STA01", set[0].Station)
	assert.Equal(t, "STA03", set[1].Station)
}

func TestDeleteFileRequiresDeletedStatus(t *testing.T) {
	store := newTestStore(t)

	rec := newRecord("STA01", "aaaa", types.StatusPending)
	require.NoError(t, store.InsertFile(rec))

	assert.Error(t, store.DeleteFile(rec.ID))

	require.NoError(t, store.Transition(rec.ID, types.StatusPending, types.StatusDeleted, TransitionOpts{}))
	assert.NoError(t, store.DeleteFile(rec.ID))

	_, err := store.GetFile(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrototypes(t *testing.T) {
	store := newTestStore(t)

	older := &types.Prototype{
		Network:     testNetwork(),
		Description: "old",
		Hash:        "hash-old",
		Created:     time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.PutPrototype(older))

	newer := &types.Prototype{
		Network:     testNetwork(),
		Restricted:  true,
		Description: "new",
		Hash:        "hash-new",
		Created:     time.Now(),
	}
	require.NoError(t, store.PutPrototype(newer))

	active, err := store.ActivePrototype("XX", testNetwork().Start)
	require.NoError(t, err)
	assert.Equal(t, "hash-new", active.Hash)
	assert.True(t, active.Restricted)

	// Older prototypes remain queryable for audit.
	audit, err := store.GetPrototype("hash-old")
	require.NoError(t, err)
	assert.Equal(t, "old", audit.Description)

	_, err = store.ActivePrototype("YY", testNetwork().Start)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsersAndSessions(t *testing.T) {
	store := newTestStore(t)

	user := &types.User{
		ID:       uuid.New().String(),
		Username: "operator",
		Role:     types.RoleOperator,
		Created:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateUser(user))

	byName, err := store.GetUserByUsername("operator")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	_, err = store.GetUserByUsername("ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	session := &types.Session{
		Token:   uuid.New().String(),
		UserID:  user.ID,
		Created: time.Now().UTC(),
		Expires: time.Now().Add(time.Hour),
	}
	require.NoError(t, store.CreateSession(session))

	got, err := store.GetSession(session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UserID)

	require.NoError(t, store.DeleteSession(session.Token))
	_, err = store.GetSession(session.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}
