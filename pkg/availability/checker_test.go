package availability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seidata/curator/pkg/log"
	"github.com/seidata/curator/pkg/stationxml"
	"github.com/seidata/curator/pkg/storage"
	"github.com/seidata/curator/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
}

const servedDoc = `<?xml version="1.0" encoding="UTF-8"?>
<FDSNStationXML xmlns="http://www.fdsn.org/xml/station/1" schemaVersion="1.0">
  <Source>Webservice</Source>
  <Created>2024-06-01T00:00:00</Created>
  <Network code="XX" startDate="2020-01-01T00:00:00" restrictedStatus="open">
    <Description>Test network</Description>
    <Station code="STA01" startDate="2020-01-01T00:00:00">
      <Latitude>52.1</Latitude>
      <Channel code="HHZ" locationCode="" startDate="2020-01-01T00:00:00">
        <SampleRate>100.0</SampleRate>
        <Response>
          <InstrumentSensitivity><Value>1000.0</Value></InstrumentSensitivity>
          <Stage number="1"><StageGain><Value>1000.0</Value></StageGain></Stage>
        </Response>
      </Channel>
    </Station>
  </Network>
</FDSNStationXML>`

func servedHash(t *testing.T) string {
	t.Helper()
	root, err := stationxml.Parse([]byte(servedDoc))
	require.NoError(t, err)
	hash, err := stationxml.HashNetwork(root.All("Network")[0])
	require.NoError(t, err)
	return hash
}

func insertAccepted(t *testing.T, store storage.Store, hash string) *types.FileRecord {
	t.Helper()
	now := time.Now().UTC()
	rec := &types.FileRecord{
		ID:      uuid.New().String(),
		Network: types.Network{Code: "XX", Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		Station: "STA01", Hash: hash, Path: "XX/STA01/" + hash,
		Status: types.StatusAccepted, Created: now, Modified: now,
	}
	require.NoError(t, store.InsertFile(rec))
	return rec
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMatchingHashCompletesRecord(t *testing.T) {
	store := newTestStore(t)
	rec := insertAccepted(t, store, servedHash(t))

	webservice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "XX", r.URL.Query().Get("network"))
		assert.Equal(t, "STA01", r.URL.Query().Get("station"))
		assert.Equal(t, "response", r.URL.Query().Get("level"))
		io.WriteString(w, servedDoc)
	}))
	defer webservice.Close()

	checker := NewChecker(store, webservice.URL, time.Minute)
	checker.sweep(context.Background())

	got, err := store.GetFile(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	require.NotNil(t, got.Available)
	assert.WithinDuration(t, time.Now(), *got.Available, time.Minute)
}

func TestMismatchedHashLeavesRecord(t *testing.T) {
	store := newTestStore(t)
	rec := insertAccepted(t, store, "0000000000000000000000000000000000000000000000000000000000000000")

	webservice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, servedDoc)
	}))
	defer webservice.Close()

	checker := NewChecker(store, webservice.URL, time.Minute)
	checker.sweep(context.Background())

	got, err := store.GetFile(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAccepted, got.Status)
	assert.Nil(t, got.Available)
}

func TestWebserviceDownLeavesRecord(t *testing.T) {
	store := newTestStore(t)
	rec := insertAccepted(t, store, servedHash(t))

	webservice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer webservice.Close()

	checker := NewChecker(store, webservice.URL, time.Minute)
	checker.sweep(context.Background())

	got, err := store.GetFile(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAccepted, got.Status)
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	store := newTestStore(t)
	insertAccepted(t, store, servedHash(t))

	calls := 0
	webservice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer webservice.Close()

	checker := NewChecker(store, webservice.URL, time.Minute)
	for i := 0; i < 10; i++ {
		checker.sweep(context.Background())
	}

	// After the breaker trips the webservice stops being hammered.
	assert.Less(t, calls, 10)
}
