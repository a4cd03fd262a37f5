package prototype

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seidata/curator/pkg/blob"
	"github.com/seidata/curator/pkg/log"
	"github.com/seidata/curator/pkg/storage"
	"github.com/seidata/curator/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
}

func prototypeXML(code, description string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<FDSNStationXML xmlns="http://www.fdsn.org/xml/station/1" schemaVersion="1.0">
  <Source>Test</Source>
  <Created>2024-01-01T00:00:00</Created>
  <Network code="%s" startDate="2020-01-01T00:00:00" restrictedStatus="open">
    <Description>%s</Description>
  </Network>
</FDSNStationXML>`, code, description))
}

func newTestRegistry(t *testing.T) (*Registry, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)

	return NewRegistry(store, blobs), store
}

func TestIngestIsIdempotent(t *testing.T) {
	registry, _ := newTestRegistry(t)

	data := prototypeXML("XX", "Test network")
	proto, isNew, err := registry.Ingest(data)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "XX", proto.Network.Code)

	again, isNew, err := registry.Ingest(data)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, proto.Hash, again.Hash)
}

func TestActivePicksNewest(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, _, err := registry.Ingest(prototypeXML("XX", "first"))
	require.NoError(t, err)
	_, _, err = registry.Ingest(prototypeXML("XX", "second"))
	require.NoError(t, err)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	active, err := registry.Active("XX", start)
	require.NoError(t, err)
	assert.Equal(t, "second", active.Description)
}

func TestBlobRoundTrip(t *testing.T) {
	registry, _ := newTestRegistry(t)

	data := prototypeXML("XX", "Test network")
	proto, _, err := registry.Ingest(data)
	require.NoError(t, err)

	got, err := registry.Blob(proto)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestIngestDir(t *testing.T) {
	registry, _ := newTestRegistry(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "xx.xml"), prototypeXML("XX", "one"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "yy.stationxml"), prototypeXML("YY", "two"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.xml"), []byte("<oops"), 0644))

	added, err := registry.IngestDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	// Re-running adds nothing.
	added, err = registry.IngestDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestReconcileForcesRevalidation(t *testing.T) {
	registry, store := newTestRegistry(t)

	network := types.Network{Code: "XX", Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	now := time.Now().UTC()

	completed := &types.FileRecord{
		ID: uuid.New().String(), Network: network, Station: "STA01",
		Hash: "h1", Status: types.StatusCompleted, Created: now.Add(-time.Hour), Modified: now,
	}
	require.NoError(t, store.InsertFile(completed))

	pending := &types.FileRecord{
		ID: uuid.New().String(), Network: network, Station: "STA02",
		Hash: "h2", Status: types.StatusPending, Created: now, Modified: now,
	}
	require.NoError(t, store.InsertFile(pending))

	rejected := &types.FileRecord{
		ID: uuid.New().String(), Network: network, Station: "STA03",
		Hash: "h3", Status: types.StatusRejected, Created: now, Modified: now,
	}
	require.NoError(t, store.InsertFile(rejected))

	require.NoError(t, registry.Reconcile(network))

	got, err := store.GetFile(completed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, ReconcileNote, got.Error)

	// Records not published stay alone.
	got, err = store.GetFile(pending.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)

	got, err = store.GetFile(rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, got.Status)
}
