package prototype

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/seidata/curator/pkg/blob"
	"github.com/seidata/curator/pkg/log"
	"github.com/seidata/curator/pkg/stationxml"
	"github.com/seidata/curator/pkg/storage"
	"github.com/seidata/curator/pkg/types"
)

// ReconcileNote is stamped on records forced back to PENDING when a new
// prototype for their network arrives.
const ReconcileNote = "prototype updated; re-validation required"

// Registry manages network prototype definitions: the authoritative
// header-level description each submission validates against.
type Registry struct {
	store  storage.Store
	blobs  *blob.Store
	logger zerolog.Logger
}

// NewRegistry creates a prototype registry.
func NewRegistry(store storage.Store, blobs *blob.Store) *Registry {
	return &Registry{
		store:  store,
		blobs:  blobs,
		logger: log.WithComponent("prototype"),
	}
}

// Ingest parses, hashes and stores a prototype document. Re-ingesting
// bytes with a known hash is a no-op; a genuinely new prototype
// triggers reconciliation of the affected network. Returns the
// prototype and whether it was newly added.
func (r *Registry) Ingest(data []byte) (*types.Prototype, bool, error) {
	proto, err := stationxml.ParsePrototype(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse prototype: %w", err)
	}

	if existing, err := r.store.GetPrototype(proto.Hash); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	if _, err := r.blobs.PutPrototype(proto.Hash, data); err != nil {
		return nil, false, err
	}

	proto.Created = time.Now().UTC()
	if err := r.store.PutPrototype(proto); err != nil {
		return nil, false, err
	}

	r.logger.Info().
		Str("network", proto.Network.Code).
		Str("hash", proto.Hash).
		Bool("restricted", proto.Restricted).
		Msg("prototype ingested")

	if err := r.Reconcile(proto.Network); err != nil {
		return nil, false, fmt.Errorf("failed to reconcile network %s: %w", proto.Network.Code, err)
	}
	return proto, true, nil
}

// Active returns the newest prototype for (code, start).
func (r *Registry) Active(code string, start time.Time) (*types.Prototype, error) {
	return r.store.ActivePrototype(code, start)
}

// Blob returns the stored prototype document bytes.
func (r *Registry) Blob(proto *types.Prototype) ([]byte, error) {
	return r.blobs.Read(r.blobs.PrototypePath(proto.Hash), blob.ExtPrototype)
}

// IngestDir ingests every prototype file in dir and returns how many
// were newly added. Unreadable or unparseable files are logged and
// skipped so one bad file cannot block the rest.
func (r *Registry) IngestDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read prototype directory: %w", err)
	}

	added := 0
	for _, entry := range entries {
		if entry.IsDir() || !isPrototypeFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Error().Err(err).Str("file", path).Msg("failed to read prototype file")
			continue
		}
		_, isNew, err := r.Ingest(data)
		if err != nil {
			r.logger.Error().Err(err).Str("file", path).Msg("failed to ingest prototype file")
			continue
		}
		if isNew {
			added++
		}
	}
	return added, nil
}

// Reconcile forces re-validation of every station under network whose
// latest record is published or about to be: those records move back to
// PENDING so the pipeline re-checks prototype compatibility. Records in
// other states are left alone.
func (r *Registry) Reconcile(network types.Network) error {
	records, err := r.store.ListNetwork(network)
	if err != nil {
		return err
	}

	// Latest record per station only; history stays untouched.
	latest := make(map[string]*types.FileRecord)
	for _, rec := range records {
		if prev, ok := latest[rec.Station]; !ok || rec.Created.After(prev.Created) {
			latest[rec.Station] = rec
		}
	}

	for _, rec := range latest {
		if rec.Status != types.StatusAccepted && rec.Status != types.StatusCompleted {
			continue
		}
		err := r.store.Transition(rec.ID, rec.Status, types.StatusPending, storage.TransitionOpts{
			Note: ReconcileNote,
		})
		if err != nil {
			if errors.Is(err, storage.ErrConflict) {
				// Another actor moved it first; its new state will be
				// re-validated anyway.
				continue
			}
			return err
		}
		r.logger.Info().
			Str("record_id", rec.ID).
			Str("station", rec.Station).
			Msg("record forced back to pending for re-validation")
	}
	return nil
}

func isPrototypeFile(name string) bool {
	return strings.HasSuffix(name, ".xml") || strings.HasSuffix(name, ".stationxml")
}
