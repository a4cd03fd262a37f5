package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/seidata/curator/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketFiles      = []byte("files")
	bucketPrototypes = []byte("prototypes")
	bucketUsers      = []byte("users")
	bucketSessions   = []byte("sessions")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB

	// claims holds record ids currently dispatched to a daemon. Guarded
	// by claimsMu; entries are advisory and vanish on process restart.
	claims   map[string]struct{}
	claimsMu sync.Mutex
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "curator.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketFiles,
			bucketPrototypes,
			bucketUsers,
			bucketSessions,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{
		db:     db,
		claims: make(map[string]struct{}),
	}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// File record operations

func (s *BoltStore) InsertFile(rec *types.FileRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)

		// Reject when an equal-hash record is still active.
		var conflict bool
		err := b.ForEach(func(k, v []byte) error {
			var existing types.FileRecord
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Hash == rec.Hash && existing.Status.Active() {
				conflict = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if conflict {
			return ErrDuplicateActive
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), data)
	})
}

func (s *BoltStore) GetFile(id string) (*types.FileRecord, error) {
	var rec types.FileRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) FindByHash(hash string) ([]*types.FileRecord, error) {
	return s.filterFiles(func(rec *types.FileRecord) bool {
		return rec.Hash == hash
	})
}

func (s *BoltStore) FindLatest(network types.Network, station string) (*types.FileRecord, error) {
	records, err := s.ListStation(network, station)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

func (s *BoltStore) ClaimNext(statuses []types.Status) (*types.FileRecord, func(), error) {
	wanted := make(map[types.Status]struct{}, len(statuses))
	for _, st := range statuses {
		wanted[st] = struct{}{}
	}

	candidates, err := s.filterFiles(func(rec *types.FileRecord) bool {
		_, ok := wanted[rec.Status]
		return ok
	})
	if err != nil {
		return nil, nil, err
	}

	// Oldest modified first so no record starves.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Modified.Before(candidates[j].Modified)
	})

	s.claimsMu.Lock()
	defer s.claimsMu.Unlock()
	for _, rec := range candidates {
		if _, taken := s.claims[rec.ID]; taken {
			continue
		}
		s.claims[rec.ID] = struct{}{}
		id := rec.ID
		release := func() {
			s.claimsMu.Lock()
			delete(s.claims, id)
			s.claimsMu.Unlock()
		}
		return rec, release, nil
	}
	return nil, nil, nil
}

func (s *BoltStore) Transition(id string, from, to types.Status, opts TransitionOpts) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		var rec types.FileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if rec.Status != from {
			return fmt.Errorf("%w: record %s is %s, not %s", ErrConflict, id, rec.Status, from)
		}

		rec.Status = to
		rec.Modified = time.Now().UTC()
		if opts.Error != "" {
			rec.Error = opts.Error
		}
		if opts.Note != "" {
			rec.Error = opts.Note
		}
		if opts.Available != nil {
			rec.Available = opts.Available
		}

		updated, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

func (s *BoltStore) ListStation(network types.Network, station string) ([]*types.FileRecord, error) {
	records, err := s.filterFiles(func(rec *types.FileRecord) bool {
		return rec.Network.Key() == network.Key() && rec.Station == station
	})
	if err != nil {
		return nil, err
	}
	// Newest first.
	sort.Slice(records, func(i, j int) bool {
		return records[i].Created.After(records[j].Created)
	})
	return records, nil
}

func (s *BoltStore) ListFiles() ([]*types.FileRecord, error) {
	records, err := s.filterFiles(func(*types.FileRecord) bool { return true })
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Created.After(records[j].Created)
	})
	return records, nil
}

func (s *BoltStore) ListStationCode(code, station string) ([]*types.FileRecord, error) {
	records, err := s.filterFiles(func(rec *types.FileRecord) bool {
		return rec.Network.Code == code && rec.Station == station
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Created.After(records[j].Created)
	})
	return records, nil
}

func (s *BoltStore) ListNetwork(network types.Network) ([]*types.FileRecord, error) {
	records, err := s.filterFiles(func(rec *types.FileRecord) bool {
		return rec.Network.Key() == network.Key()
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Created.After(records[j].Created)
	})
	return records, nil
}

func (s *BoltStore) AcceptedSet() ([]*types.FileRecord, error) {
	records, err := s.filterFiles(func(rec *types.FileRecord) bool {
		return rec.Status == types.StatusAccepted || rec.Status == types.StatusCompleted
	})
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*types.FileRecord)
	for _, rec := range records {
		key := rec.Network.Key() + "/" + rec.Station
		if prev, ok := latest[key]; !ok || rec.Created.After(prev.Created) {
			latest[key] = rec
		}
	}

	set := make([]*types.FileRecord, 0, len(latest))
	for _, rec := range latest {
		set = append(set, rec)
	}
	sort.Slice(set, func(i, j int) bool {
		if set[i].Network.Code != set[j].Network.Code {
			return set[i].Network.Code < set[j].Network.Code
		}
		return set[i].Station < set[j].Station
	})
	return set, nil
}

func (s *BoltStore) DeleteFile(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var rec types.FileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if rec.Status != types.StatusDeleted {
			return fmt.Errorf("cannot delete record %s in status %s", id, rec.Status)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) filterFiles(keep func(*types.FileRecord) bool) ([]*types.FileRecord, error) {
	var records []*types.FileRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		return b.ForEach(func(k, v []byte) error {
			var rec types.FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if keep(&rec) {
				records = append(records, &rec)
			}
			return nil
		})
	})
	return records, err
}

// Prototype operations

func (s *BoltStore) PutPrototype(p *types.Prototype) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrototypes)
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put([]byte(p.Hash), data)
	})
}

func (s *BoltStore) GetPrototype(hash string) (*types.Prototype, error) {
	var p types.Prototype
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrototypes)
		data := b.Get([]byte(hash))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ActivePrototype(code string, start time.Time) (*types.Prototype, error) {
	key := types.Network{Code: code, Start: start}.Key()

	var active *types.Prototype
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrototypes)
		return b.ForEach(func(k, v []byte) error {
			var p types.Prototype
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.Network.Key() != key {
				return nil
			}
			if active == nil || p.Created.After(active.Created) {
				active = &p
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, ErrNotFound
	}
	return active, nil
}

func (s *BoltStore) ListPrototypes() ([]*types.Prototype, error) {
	var prototypes []*types.Prototype
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrototypes)
		return b.ForEach(func(k, v []byte) error {
			var p types.Prototype
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			prototypes = append(prototypes, &p)
			return nil
		})
	})
	return prototypes, err
}

// User operations

func (s *BoltStore) CreateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return b.Put([]byte(user.ID), data)
	})
}

func (s *BoltStore) GetUser(id string) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) GetUserByUsername(username string) (*types.User, error) {
	var found *types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			if user.Username == username {
				found = &user
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			users = append(users, &user)
			return nil
		})
	})
	return users, err
}

// Session operations

func (s *BoltStore) CreateSession(session *types.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		data, err := json.Marshal(session)
		if err != nil {
			return err
		}
		return b.Put([]byte(session.Token), data)
	})
}

func (s *BoltStore) GetSession(token string) (*types.Session, error) {
	var session types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		data := b.Get([]byte(token))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *BoltStore) DeleteSession(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		return b.Delete([]byte(token))
	})
}
