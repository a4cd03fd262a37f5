package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/seidata/curator/pkg/auth"
	"github.com/seidata/curator/pkg/blob"
	"github.com/seidata/curator/pkg/events"
	"github.com/seidata/curator/pkg/executor"
	"github.com/seidata/curator/pkg/log"
	"github.com/seidata/curator/pkg/metrics"
	"github.com/seidata/curator/pkg/prototype"
	"github.com/seidata/curator/pkg/stationxml"
	"github.com/seidata/curator/pkg/storage"
	"github.com/seidata/curator/pkg/types"
)

// lostRaceError marks the losing side of two simultaneous acceptance
// promotions for the same station.
const lostRaceError = "lost race; newer submission present"

// Config holds the lifecycle daemon configuration.
type Config struct {
	PollInterval       time.Duration
	NodeID             string
	PurgeDeleted       bool
	ReconfigureOnMerge bool
}

// Daemon is the single logical worker that moves records through the
// curation state machine.
type Daemon struct {
	cfg      Config
	store    storage.Store
	blobs    *blob.Store
	registry *prototype.Registry
	exec     *executor.Executor
	resolver *Resolver
	broker   *events.Broker
	logger   zerolog.Logger

	// lastMergedSet skips redundant full-merge passes while the accepted
	// set is unchanged.
	lastMergedSet string
}

// New creates a lifecycle daemon.
func New(cfg Config, store storage.Store, blobs *blob.Store, registry *prototype.Registry, exec *executor.Executor, broker *events.Broker) *Daemon {
	return &Daemon{
		cfg:      cfg,
		store:    store,
		blobs:    blobs,
		registry: registry,
		exec:     exec,
		resolver: NewResolver(store),
		broker:   broker,
		logger:   log.WithComponent("daemon"),
	}
}

// Run executes the cooperative processing loop until the context is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info().Dur("poll_interval", d.cfg.PollInterval).Msg("lifecycle daemon started")

	for {
		select {
		case <-ticker.C:
			d.cycle(ctx)
		case <-ctx.Done():
			d.logger.Info().Msg("lifecycle daemon stopped")
			return nil
		}
	}
}

// cycle drains every claimable record, then runs the full-merge pass
// when the forward queue was empty.
func (d *Daemon) cycle(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.DaemonCycleDuration)
		metrics.DaemonCyclesTotal.Inc()
	}()

	claimable := []types.Status{types.StatusPending, types.StatusValidated, types.StatusConverted}
	if d.cfg.PurgeDeleted {
		claimable = append(claimable, types.StatusDeleted)
	}

	// Claims on records that failed transiently are held until the end
	// of the cycle so the drain loop cannot spin on them.
	var held []func()
	defer func() {
		for _, release := range held {
			release()
		}
	}()

	processed := 0
	for ctx.Err() == nil {
		rec, release, err := d.store.ClaimNext(claimable)
		if err != nil {
			d.logger.Error().Err(err).Msg("failed to claim next record")
			return
		}
		if rec == nil {
			break
		}
		if d.dispatch(ctx, rec) {
			release()
			processed++
		} else {
			held = append(held, release)
		}
	}

	if processed == 0 && ctx.Err() == nil {
		d.fullMergePass(ctx)
	}
}

// dispatch routes one claimed record by status. It reports whether the
// record moved on; false means a transient failure left it in place.
func (d *Daemon) dispatch(ctx context.Context, rec *types.FileRecord) bool {
	logger := d.logger.With().
		Str("record_id", rec.ID).
		Str("network", rec.Network.Code).
		Str("station", rec.Station).
		Str("status", rec.Status.String()).
		Logger()

	var err error
	switch rec.Status {
	case types.StatusPending:
		err = d.validate(rec, logger)
	case types.StatusValidated:
		err = d.convert(ctx, rec, logger)
	case types.StatusConverted:
		err = d.merge(ctx, rec, logger)
	case types.StatusDeleted:
		err = d.purge(rec, logger)
	default:
		logger.Warn().Msg("claimed record in unexpected status")
		return false
	}

	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Another actor moved the record; re-read and let the next
			// cycle re-dispatch whatever it became.
			logger.Warn().Msg("transition conflict, record will be revisited")
			return false
		}
		// Transient failure: record stays in place, revisited next poll.
		logger.Error().Err(err).Msg("processing failed, record left in place")
		return false
	}
	return true
}

// validate re-reads the artifact bytes, applies the validator, and
// checks prototype compatibility.
func (d *Daemon) validate(rec *types.FileRecord, logger zerolog.Logger) error {
	data, err := d.blobs.Read(rec.Path, blob.ExtSource)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}

	reason, rejected, err := d.validationFailure(data)
	if err != nil {
		return err
	}
	if rejected {
		return d.reject(rec, types.StatusPending, reason, logger)
	}

	if err := d.transition(rec.ID, types.StatusPending, types.StatusValidated, storage.TransitionOpts{}); err != nil {
		return err
	}
	logger.Info().Msg("record validated")
	return nil
}

// validationFailure runs the document rules and the prototype
// compatibility check. rejected is true when the record must move to
// REJECTED with reason; err reports transient store failures only.
func (d *Daemon) validationFailure(data []byte) (reason string, rejected bool, err error) {
	root, err := stationxml.Parse(data)
	if err != nil {
		return err.Error(), true, nil
	}
	if err := stationxml.Validate(root); err != nil {
		return err.Error(), true, nil
	}

	networks := root.All("Network")
	if len(networks) != 1 {
		return fmt.Sprintf("artifact must contain exactly one network, found %d", len(networks)), true, nil
	}
	identity, restricted, err := stationxml.NetworkAttrs(networks[0])
	if err != nil {
		return err.Error(), true, nil
	}

	proto, err := d.registry.Active(identity.Code, identity.Start)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return auth.ErrPrototypeMissing.Error(), true, nil
		}
		return "", false, err
	}
	if err := auth.CheckPrototype(identity, restricted, proto); err != nil {
		return err.Error(), true, nil
	}
	return "", false, nil
}

// convert invokes the external tool to produce the derived form.
func (d *Daemon) convert(ctx context.Context, rec *types.FileRecord, logger zerolog.Logger) error {
	source := d.blobs.Abs(rec.Path, blob.ExtSource)
	target := d.blobs.Abs(rec.Path, blob.ExtConverted)

	result, err := d.exec.Convert(ctx, source, target)
	if err != nil {
		return err
	}
	if !result.Ok() {
		// No derived artifact may survive a failed conversion.
		os.Remove(target)
		return d.reject(rec, types.StatusValidated, strings.TrimSpace(string(result.Stderr)), logger)
	}

	if err := d.transition(rec.ID, types.StatusValidated, types.StatusConverted, storage.TransitionOpts{}); err != nil {
		return err
	}
	logger.Info().Msg("record converted")
	return nil
}

// merge verifies the converted artifact merges cleanly with its
// network's prototype, then promotes the record to ACCEPTED and retires
// prior records for the same station.
func (d *Daemon) merge(ctx context.Context, rec *types.FileRecord, logger zerolog.Logger) error {
	protoConverted, err := d.convertedPrototype(ctx, rec)
	if err != nil {
		return err
	}

	files := []string{d.blobs.Abs(rec.Path, blob.ExtConverted), protoConverted}
	result, err := d.exec.Merge(ctx, files, io.Discard)
	if err != nil {
		return err
	}
	if !result.Ok() {
		reason := "Could not merge metadata: " + strings.TrimSpace(string(result.Stderr))
		return d.reject(rec, types.StatusConverted, reason, logger)
	}

	err = d.transition(rec.ID, types.StatusConverted, types.StatusAccepted, storage.TransitionOpts{})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return d.handleLostRace(rec, logger)
		}
		return err
	}
	logger.Info().Msg("record accepted")

	d.broker.Publish(&types.Event{
		Type:    types.EventRecordAccepted,
		Message: fmt.Sprintf("%s.%s accepted", rec.Network.Code, rec.Station),
		Metadata: map[string]string{
			"network": rec.Network.Code,
			"station": rec.Station,
			"hash":    rec.Hash,
		},
	})

	return d.resolver.Supersede(rec)
}

// handleLostRace classifies a record whose acceptance promotion lost to
// a newer simultaneous submission. If a concurrent resolver already
// retired it the record is left alone; otherwise it is rejected with
// the race noted.
func (d *Daemon) handleLostRace(rec *types.FileRecord, logger zerolog.Logger) error {
	current, err := d.store.GetFile(rec.ID)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		logger.Info().Str("status", current.Status.String()).Msg("record retired by concurrent acceptance")
		return nil
	}
	return d.reject(current, current.Status, lostRaceError, logger)
}

// convertedPrototype resolves the active prototype for the record's
// network to its converted form, converting on demand.
func (d *Daemon) convertedPrototype(ctx context.Context, rec *types.FileRecord) (string, error) {
	proto, err := d.registry.Active(rec.Network.Code, rec.Network.Start)
	if err != nil {
		return "", fmt.Errorf("failed to resolve active prototype: %w", err)
	}

	path := d.blobs.PrototypePath(proto.Hash)
	converted := d.blobs.Abs(path, blob.ExtConverted)
	if d.blobs.Exists(path, blob.ExtConverted) {
		return converted, nil
	}

	result, err := d.exec.Convert(ctx, d.blobs.Abs(path, blob.ExtPrototype), converted)
	if err != nil {
		return "", err
	}
	if !result.Ok() {
		os.Remove(converted)
		return "", fmt.Errorf("failed to convert prototype %s: %s", proto.Hash, strings.TrimSpace(string(result.Stderr)))
	}
	return converted, nil
}

// purge removes a DELETED record's row and, when the hash is no longer
// referenced, its blobs.
func (d *Daemon) purge(rec *types.FileRecord, logger zerolog.Logger) error {
	if err := d.store.DeleteFile(rec.ID); err != nil {
		return err
	}

	remaining, err := d.store.FindByHash(rec.Hash)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if err := d.blobs.Remove(rec.Path); err != nil {
			return err
		}
	}
	logger.Info().Msg("record purged")
	return nil
}

// fullMergePass assembles the full published inventory from the
// accepted set into the node's well-known output artifact. The output
// is written atomically; on success the downstream webservice is
// optionally reconfigured and restarted.
func (d *Daemon) fullMergePass(ctx context.Context) {
	set, err := d.store.AcceptedSet()
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to assemble accepted set")
		return
	}
	if len(set) == 0 {
		return
	}

	var files []string
	var hashes []string
	for _, rec := range set {
		if !d.blobs.Exists(rec.Path, blob.ExtConverted) {
			d.logger.Warn().Str("record_id", rec.ID).Msg("accepted record missing converted artifact, skipped from inventory")
			continue
		}
		files = append(files, d.blobs.Abs(rec.Path, blob.ExtConverted))
		hashes = append(hashes, rec.Hash)
	}
	if len(files) == 0 {
		return
	}

	sort.Strings(hashes)
	fingerprint := fingerprintOf(hashes)
	if fingerprint == d.lastMergedSet {
		return
	}

	target := d.blobs.InventoryPath(d.cfg.NodeID)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		d.logger.Error().Err(err).Msg("failed to create inventory directory")
		return
	}
	tmp := target + ".tmp"

	result, err := d.exec.MergeToFile(ctx, files, tmp)
	if err != nil {
		d.logger.Error().Err(err).Msg("full merge failed")
		return
	}
	if !result.Ok() {
		os.Remove(tmp)
		d.logger.Error().Str("stderr", strings.TrimSpace(string(result.Stderr))).Msg("full merge rejected by tool")
		return
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		d.logger.Error().Err(err).Msg("failed to move inventory into place")
		return
	}

	d.lastMergedSet = fingerprint
	d.logger.Info().Int("artifacts", len(files)).Str("target", target).Msg("full inventory merged")

	if d.cfg.ReconfigureOnMerge {
		if result, err := d.exec.Reconfigure(ctx); err != nil || !result.Ok() {
			d.logger.Error().Err(err).Msg("reconfigure after merge failed")
			return
		}
		if result, err := d.exec.RestartQueryService(ctx); err != nil || !result.Ok() {
			d.logger.Error().Err(err).Msg("query service restart after merge failed")
		}
	}
}

// reject moves a record to REJECTED, saving the failure's textual form.
func (d *Daemon) reject(rec *types.FileRecord, from types.Status, reason string, logger zerolog.Logger) error {
	err := d.transition(rec.ID, from, types.StatusRejected, storage.TransitionOpts{Error: reason})
	if err != nil {
		return err
	}
	logger.Info().Str("reason", reason).Msg("record rejected")

	d.broker.Publish(&types.Event{
		Type:    types.EventRecordRejected,
		Message: fmt.Sprintf("%s.%s rejected: %s", rec.Network.Code, rec.Station, reason),
		Metadata: map[string]string{
			"network": rec.Network.Code,
			"station": rec.Station,
			"hash":    rec.Hash,
		},
	})
	return nil
}

func (d *Daemon) transition(id string, from, to types.Status, opts storage.TransitionOpts) error {
	if err := d.store.Transition(id, from, to, opts); err != nil {
		return err
	}
	metrics.TransitionsTotal.WithLabelValues(to.String()).Inc()
	return nil
}

func fingerprintOf(hashes []string) string {
	sum := sha256.Sum256([]byte(strings.Join(hashes, ",")))
	return hex.EncodeToString(sum[:])
}
