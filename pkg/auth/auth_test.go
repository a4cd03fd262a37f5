package auth

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seidata/curator/pkg/blob"
	"github.com/seidata/curator/pkg/log"
	"github.com/seidata/curator/pkg/prototype"
	"github.com/seidata/curator/pkg/stationxml"
	"github.com/seidata/curator/pkg/storage"
	"github.com/seidata/curator/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
}

func newTestService(t *testing.T, ttl time.Duration) (*Service, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)

	registry := prototype.NewRegistry(store, blobs)
	return NewService(store, registry, ttl), store
}

func boundNetwork() *types.Network {
	return &types.Network{Code: "XX", Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestLoginAndSession(t *testing.T) {
	service, _ := newTestService(t, time.Hour)

	_, err := service.CreateUser("operator", "secret", types.RoleOperator, boundNetwork())
	require.NoError(t, err)

	session, err := service.Login("operator", "secret")
	require.NoError(t, err)

	user, err := service.UserForToken(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "operator", user.Username)
	assert.Equal(t, types.RoleOperator, user.Role)
}

func TestLoginBadCredentials(t *testing.T) {
	service, _ := newTestService(t, time.Hour)

	_, err := service.CreateUser("operator", "secret", types.RoleOperator, boundNetwork())
	require.NoError(t, err)

	_, err = service.Login("operator", "wrong")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = service.Login("nobody", "secret")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestExpiredSessionSwept(t *testing.T) {
	service, store := newTestService(t, -time.Minute)

	_, err := service.CreateUser("operator", "secret", types.RoleOperator, boundNetwork())
	require.NoError(t, err)

	session, err := service.Login("operator", "secret")
	require.NoError(t, err)

	_, err = service.UserForToken(session.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	// The expired session row is gone.
	_, err = store.GetSession(session.Token)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateUserRules(t *testing.T) {
	service, _ := newTestService(t, time.Hour)

	_, err := service.CreateUser("operator", "secret", types.RoleOperator, nil)
	assert.Error(t, err, "operators need a bound prototype")

	_, err = service.CreateUser("admin", "secret", types.RoleAdmin, nil)
	assert.NoError(t, err)

	_, err = service.CreateUser("admin", "other", types.RoleAdmin, nil)
	assert.Error(t, err, "duplicate username")
}

func TestAuthorize(t *testing.T) {
	service, store := newTestService(t, time.Hour)

	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.PutPrototype(&types.Prototype{
		Network:    types.Network{Code: "XX", Start: boundNetwork().Start, End: &end},
		Restricted: false,
		Hash:       "proto-hash",
		Created:    time.Now().UTC(),
	}))

	admin, err := service.CreateUser("admin", "secret", types.RoleAdmin, nil)
	require.NoError(t, err)
	operator, err := service.CreateUser("operator", "secret", types.RoleOperator, boundNetwork())
	require.NoError(t, err)

	matching := &stationxml.Artifact{
		Network: types.Network{Code: "XX", Start: boundNetwork().Start, End: &end},
		Station: "STA01",
	}

	// Admins may submit for any network.
	assert.NoError(t, service.Authorize(admin, matching))

	// Operators may submit for their bound network when attributes agree.
	assert.NoError(t, service.Authorize(operator, matching))

	// Foreign network is forbidden.
	foreign := &stationxml.Artifact{
		Network: types.Network{Code: "YY", Start: boundNetwork().Start},
	}
	assert.ErrorIs(t, service.Authorize(operator, foreign), ErrForbidden)

	// End date conflicts with the active prototype.
	otherEnd := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	endConflict := &stationxml.Artifact{
		Network: types.Network{Code: "XX", Start: boundNetwork().Start, End: &otherEnd},
	}
	assert.ErrorIs(t, service.Authorize(operator, endConflict), ErrPrototypeConflictEnd)

	// Restricted flag conflicts with the active prototype.
	restricted := &stationxml.Artifact{
		Network:    types.Network{Code: "XX", Start: boundNetwork().Start, End: &end},
		Restricted: true,
	}
	assert.ErrorIs(t, service.Authorize(operator, restricted), ErrPrototypeConflictRestricted)
}

func TestAuthorizeWithoutPrototype(t *testing.T) {
	service, _ := newTestService(t, time.Hour)

	operator, err := service.CreateUser("operator", "secret", types.RoleOperator, boundNetwork())
	require.NoError(t, err)

	artifact := &stationxml.Artifact{
		Network: types.Network{Code: "XX", Start: boundNetwork().Start},
	}
	assert.ErrorIs(t, service.Authorize(operator, artifact), ErrPrototypeMissing)
}
