package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seidata/curator/pkg/auth"
	"github.com/seidata/curator/pkg/blob"
	"github.com/seidata/curator/pkg/storage"
	"github.com/seidata/curator/pkg/types"
)

// historyEntry is the JSON projection of a file record on the read API.
type historyEntry struct {
	ID           string     `json:"id"`
	Status       int        `json:"status"`
	StatusName   string     `json:"status_name"`
	Created      time.Time  `json:"created"`
	Modified     time.Time  `json:"modified"`
	Available    *time.Time `json:"available,omitempty"`
	Error        string     `json:"error,omitempty"`
	Hash         string     `json:"hash"`
	ChannelCount int        `json:"channel_count"`
	SizeBytes    int64      `json:"size_bytes"`
}

func toHistoryEntry(rec *types.FileRecord) historyEntry {
	return historyEntry{
		ID:           rec.ID,
		Status:       int(rec.Status),
		StatusName:   rec.Status.String(),
		Created:      rec.Created,
		Modified:     rec.Modified,
		Available:    rec.Available,
		Error:        rec.Error,
		Hash:         rec.Hash,
		ChannelCount: rec.ChannelCount,
		SizeBytes:    rec.SizeBytes,
	}
}

// handleAuthenticate exchanges form credentials for a session cookie.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	session, err := s.auth.Login(r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			s.redirectHome(w, r, tokenAuthError)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.Expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.redirectHome(w, r, tokenAuthSuccess)
}

// handleHistoryGet serves either a record's full station history as
// JSON, or, with an id parameter, the record's source blob.
func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	if hash := r.URL.Query().Get("id"); hash != "" {
		s.streamRecordBlob(w, r, user, hash)
		return
	}

	network := r.URL.Query().Get("network")
	station := r.URL.Query().Get("station")
	if network == "" || station == "" {
		http.Error(w, "network and station parameters are required", http.StatusBadRequest)
		return
	}
	if !s.mayAccessNetwork(user, network) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	records, err := s.store.ListStationCode(network, station)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	entries := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, toHistoryEntry(rec))
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// handleHistoryDelete is the operator-initiated retirement of a single
// record, addressed by hash.
func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	hash := r.URL.Query().Get("id")
	if hash == "" {
		http.Error(w, "id parameter is required", http.StatusBadRequest)
		return
	}

	rec, err := s.liveRecordByHash(hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "record not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !s.mayAccessNetwork(user, rec.Network.Code) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if err := s.resolver.Retire(rec); err != nil {
		s.logger.Error().Err(err).Str("record_id", rec.ID).Msg("failed to retire record")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": rec.ID, "status": "retired"})
}

// handleStaged returns the latest status per station for the caller's
// network; administrators see every network.
func (s *Server) handleStaged(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var records []*types.FileRecord
	var err error
	switch {
	case user.Role == types.RoleAdmin:
		records, err = s.store.ListFiles()
	case user.Prototype != nil:
		records, err = s.store.ListNetwork(*user.Prototype)
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	type stagedEntry struct {
		Network    string    `json:"network"`
		Station    string    `json:"station"`
		Status     int       `json:"status"`
		StatusName string    `json:"status_name"`
		Modified   time.Time `json:"modified"`
		Hash       string    `json:"hash"`
		Error      string    `json:"error,omitempty"`
	}

	latest := make(map[string]*types.FileRecord)
	for _, rec := range records {
		key := rec.Network.Key() + "/" + rec.Station
		if prev, ok := latest[key]; !ok || rec.Created.After(prev.Created) {
			latest[key] = rec
		}
	}

	entries := make([]stagedEntry, 0, len(latest))
	for _, rec := range latest {
		entries = append(entries, stagedEntry{
			Network:    rec.Network.Code,
			Station:    rec.Station,
			Status:     int(rec.Status),
			StatusName: rec.Status.String(),
			Modified:   rec.Modified,
			Hash:       rec.Hash,
			Error:      rec.Error,
		})
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// handlePrototype streams the active prototype blob for the caller's
// network.
func (s *Server) handlePrototype(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	network := user.Prototype
	if user.Role == types.RoleAdmin {
		code := r.URL.Query().Get("network")
		if code == "" {
			http.Error(w, "network parameter is required", http.StatusBadRequest)
			return
		}
		proto, err := s.activePrototypeByCode(code)
		if err != nil {
			http.Error(w, "prototype not found", http.StatusNotFound)
			return
		}
		network = &proto.Network
	}
	if network == nil {
		http.Error(w, "no network bound to user", http.StatusBadRequest)
		return
	}

	proto, err := s.registry.Active(network.Code, network.Start)
	if err != nil {
		http.Error(w, "prototype not found", http.StatusNotFound)
		return
	}

	data, err := s.registry.Blob(proto)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write(data)
}

// handleRPCPrototypes ingests every prototype file from the configured
// prototype directory.
func (s *Server) handleRPCPrototypes(w http.ResponseWriter, r *http.Request) {
	added, err := s.registry.IngestDir(s.cfg.PrototypeDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

// handleRPCInventory streams the full merged inventory as an
// attachment.
func (s *Server) handleRPCInventory(w http.ResponseWriter, r *http.Request) {
	set, err := s.store.AcceptedSet()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var files []string
	for _, rec := range set {
		if s.blobs.Exists(rec.Path, blob.ExtConverted) {
			files = append(files, s.blobs.Abs(rec.Path, blob.ExtConverted))
		}
	}
	if len(files) == 0 {
		http.Error(w, "no accepted inventory", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", s.cfg.NodeID+"-full-inventory"))

	result, err := s.exec.Merge(r.Context(), files, w)
	if err != nil {
		s.logger.Error().Err(err).Msg("inventory merge failed")
		return
	}
	if !result.Ok() {
		s.logger.Error().Str("stderr", string(result.Stderr)).Msg("inventory merge rejected by tool")
	}
}

// handleRPCReconfigure re-issues the downstream reconfigure and query
// service restart.
func (s *Server) handleRPCReconfigure(w http.ResponseWriter, r *http.Request) {
	if result, err := s.exec.Reconfigure(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	} else if !result.Ok() {
		http.Error(w, string(result.Stderr), http.StatusBadGateway)
		return
	}
	if result, err := s.exec.RestartQueryService(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	} else if !result.Ok() {
		http.Error(w, string(result.Stderr), http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reconfigured"})
}

// streamRecordBlob serves the source artifact of the newest record with
// the given hash.
func (s *Server) streamRecordBlob(w http.ResponseWriter, r *http.Request, user *types.User, hash string) {
	records, err := s.store.FindByHash(hash)
	if err != nil || len(records) == 0 {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}
	rec := records[0]
	for _, candidate := range records {
		if candidate.Created.After(rec.Created) {
			rec = candidate
		}
	}
	if !s.mayAccessNetwork(user, rec.Network.Code) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	reader, err := s.blobs.Open(rec.Path, blob.ExtSource)
	if err != nil {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/xml")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Debug().Err(err).Msg("blob stream interrupted")
	}
}

// liveRecordByHash resolves a hash to its newest record that is not yet
// retired.
func (s *Server) liveRecordByHash(hash string) (*types.FileRecord, error) {
	records, err := s.store.FindByHash(hash)
	if err != nil {
		return nil, err
	}

	var live *types.FileRecord
	for _, rec := range records {
		if rec.Status == types.StatusSuperseded || rec.Status == types.StatusDeleted {
			continue
		}
		if live == nil || rec.Created.After(live.Created) {
			live = rec
		}
	}
	if live == nil {
		return nil, storage.ErrNotFound
	}
	return live, nil
}

// mayAccessNetwork reports whether the user may read or retire records
// of the given network code.
func (s *Server) mayAccessNetwork(user *types.User, code string) bool {
	if user.Role == types.RoleAdmin {
		return true
	}
	return user.Prototype != nil && user.Prototype.Code == code
}

// activePrototypeByCode finds the newest prototype for a bare network
// code, used by the admin prototype download.
func (s *Server) activePrototypeByCode(code string) (*types.Prototype, error) {
	prototypes, err := s.store.ListPrototypes()
	if err != nil {
		return nil, err
	}
	var newest *types.Prototype
	for _, proto := range prototypes {
		if proto.Network.Code != code {
			continue
		}
		if newest == nil || proto.Created.After(newest.Created) {
			newest = proto
		}
	}
	if newest == nil {
		return nil, storage.ErrNotFound
	}
	return newest, nil
}
