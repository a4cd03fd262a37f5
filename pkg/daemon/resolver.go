package daemon

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/seidata/curator/pkg/log"
	"github.com/seidata/curator/pkg/storage"
	"github.com/seidata/curator/pkg/types"
)

// Resolver decides which prior records to retire when a newer one is
// accepted, preserving publication provenance: records that were never
// public are DELETED, previously published ones become SUPERSEDED.
type Resolver struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewResolver creates a supersession resolver.
func NewResolver(store storage.Store) *Resolver {
	return &Resolver{
		store:  store,
		logger: log.WithComponent("resolver"),
	}
}

// Supersede retires every prior record for the accepted record's
// station. Each retirement is an independent conditional transition, so
// partial progress is safe and the whole pass is idempotent.
func (r *Resolver) Supersede(accepted *types.FileRecord) error {
	records, err := r.store.ListStation(accepted.Network, accepted.Station)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if rec.ID == accepted.ID {
			continue
		}
		// Only prior entries are retired; a record created after the
		// accepted one is a newer submission that will supersede us.
		if rec.Created.After(accepted.Created) {
			continue
		}
		if err := r.Retire(rec); err != nil {
			return err
		}
	}
	return nil
}

// Retire classifies a single record: COMPLETED records were public and
// become SUPERSEDED; everything else that is still live is DELETED.
// Already-retired records are left alone.
func (r *Resolver) Retire(rec *types.FileRecord) error {
	var target types.Status
	switch rec.Status {
	case types.StatusSuperseded, types.StatusDeleted:
		return nil
	case types.StatusCompleted:
		target = types.StatusSuperseded
	default:
		target = types.StatusDeleted
	}

	err := r.store.Transition(rec.ID, rec.Status, target, storage.TransitionOpts{})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// The record moved under us; re-read once and re-classify.
			current, getErr := r.store.GetFile(rec.ID)
			if getErr != nil {
				return getErr
			}
			if current.Status == rec.Status {
				return err
			}
			return r.Retire(current)
		}
		return err
	}

	r.logger.Info().
		Str("record_id", rec.ID).
		Str("station", rec.Station).
		Str("from", rec.Status.String()).
		Str("to", target.String()).
		Msg("record retired")
	return nil
}
