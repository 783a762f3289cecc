// Package pebblestore is a durable domain.Store on top of a Pebble LSM.
//
// Key layout:
//
//	c/<collection id>                 collection record
//	n/<collection name>               collection id (name index)
//	j/<job id>                        job record without identifiers
//	i/<job id>                        job identifier block, written once
//	a/<collection id>/<entity id BE>  association marker
package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adfharrison1/go-batch/pkg/domain"
	"github.com/adfharrison1/go-batch/pkg/storage/codec"
)

const (
	collectionPrefix  = "c/"
	namePrefix        = "n/"
	jobPrefix         = "j/"
	jobIDsPrefix      = "i/"
	associationPrefix = "a/"
)

// Store implements domain.Store with Pebble
type Store struct {
	db     *pebble.DB
	path   string
	logger zerolog.Logger

	// Serializes read-modify-write sequences; Pebble itself has no row locks
	mu sync.Mutex
}

var _ domain.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens or creates a store in dir
func Open(dir string, options ...Option) (*Store, error) {
	s := &Store{path: dir, logger: zerolog.Nop()}
	for _, option := range options {
		option(s)
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	s.db = db
	s.logger.Info().Str("path", dir).Msg("Opened pebble store")
	return s, nil
}

// Close flushes and closes the database
func (s *Store) Close() error {
	if err := s.db.Flush(); err != nil {
		s.logger.Warn().Err(err).Msg("Flush before close failed")
	}
	return s.db.Close()
}

func collectionKey(id uuid.UUID) []byte {
	return []byte(collectionPrefix + id.String())
}

func nameKey(name string) []byte {
	return []byte(namePrefix + name)
}

func jobKey(id uuid.UUID) []byte {
	return []byte(jobPrefix + id.String())
}

func jobIDsKey(id uuid.UUID) []byte {
	return []byte(jobIDsPrefix + id.String())
}

func associationPrefixFor(collectionID uuid.UUID) []byte {
	return []byte(associationPrefix + collectionID.String() + "/")
}

// associationKey flips the sign bit so byte order matches numeric order
func associationKey(collectionID uuid.UUID, entityID int64) []byte {
	prefix := associationPrefixFor(collectionID)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(entityID)^(1<<63))
	return key
}

func entityFromKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]) ^ (1 << 63))
}

// upperBound returns the smallest key greater than every key with prefix
func upperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// scan calls fn for every key/value under prefix. Slices are only valid during fn.
func (s *Store) scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// CreateJob stores a new job record and its identifier block
func (s *Store) CreateJob(ctx context.Context, job *domain.BatchJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	data, err := codec.EncodeJobMeta(job)
	if err != nil {
		return err
	}
	ids, err := codec.EncodeIDBlock(job.EntityIDs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists, err := s.get(jobKey(job.ID))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: job %s already exists", domain.ErrConflict, job.ID)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(jobIDsKey(job.ID), ids, nil); err != nil {
		return err
	}
	if err := batch.Set(jobKey(job.ID), data, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// attachIDs loads the identifier block of job
func (s *Store) attachIDs(job *domain.BatchJob) error {
	data, exists, err := s.get(jobIDsKey(job.ID))
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	ids, err := codec.DecodeIDBlock(data)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	job.EntityIDs = ids
	return nil
}

// GetJob returns the committed job record
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error) {
	data, exists, err := s.get(jobKey(id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.JobNotFound(id)
	}
	job, err := codec.DecodeJob(data)
	if err != nil {
		return nil, err
	}
	if err := s.attachIDs(job); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJob applies a partial update against the latest committed record
func (s *Store) UpdateJob(ctx context.Context, id uuid.UUID, update domain.JobUpdate) (*domain.BatchJob, error) {
	return s.mutateJob(id, func(job *domain.BatchJob, now time.Time) error {
		return update.Apply(job, now)
	})
}

// CancelJob flips a non-terminal job to CANCELLED
func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error) {
	return s.mutateJob(id, domain.Cancel)
}

func (s *Store) mutateJob(id uuid.UUID, fn func(*domain.BatchJob, time.Time) error) (*domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, exists, err := s.get(jobKey(id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.JobNotFound(id)
	}
	job, err := codec.DecodeJob(data)
	if err != nil {
		return nil, err
	}
	if err := fn(job, time.Now()); err != nil {
		return nil, err
	}

	// The identifier block is immutable; only the record is rewritten
	encoded, err := codec.EncodeJobMeta(job)
	if err != nil {
		return nil, err
	}
	if err := s.db.Set(jobKey(id), encoded, pebble.Sync); err != nil {
		return nil, err
	}
	if err := s.attachIDs(job); err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobsByStatus returns jobs in any of the given statuses, oldest first
func (s *Store) ListJobsByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.BatchJob, error) {
	wanted := make(map[domain.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	var result []*domain.BatchJob
	err := s.scan([]byte(jobPrefix), func(_, value []byte) error {
		job, err := codec.DecodeJob(value)
		if err != nil {
			return err
		}
		if len(wanted) == 0 || wanted[job.Status] {
			if err := s.attachIDs(job); err != nil {
				return err
			}
			result = append(result, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CollectionExists reports whether a collection id is registered
func (s *Store) CollectionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, exists, err := s.get(collectionKey(id))
	return exists, err
}

// CreateCollection registers a new collection and its name
func (s *Store) CreateCollection(ctx context.Context, collection *domain.Collection) error {
	if strings.TrimSpace(collection.Name) == "" {
		return &domain.ValidationError{Field: "collection_name", Reason: "collection name cannot be empty"}
	}
	data, err := codec.EncodeCollection(collection)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists, err := s.get(collectionKey(collection.ID)); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: collection %s already exists", domain.ErrConflict, collection.ID)
	}
	if _, exists, err := s.get(nameKey(collection.Name)); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: collection name %q already exists", domain.ErrConflict, collection.Name)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(collectionKey(collection.ID), data, nil); err != nil {
		return err
	}
	if err := batch.Set(nameKey(collection.Name), []byte(collection.ID.String()), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// GetCollection returns a collection by id
func (s *Store) GetCollection(ctx context.Context, id uuid.UUID) (*domain.Collection, error) {
	data, exists, err := s.get(collectionKey(id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.CollectionNotFound(id)
	}
	return codec.DecodeCollection(data)
}

// DeleteCollection removes the collection, its associations and referencing jobs in one batch
func (s *Store) DeleteCollection(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, exists, err := s.get(collectionKey(id))
	if err != nil {
		return err
	}
	if !exists {
		return domain.CollectionNotFound(id)
	}
	collection, err := codec.DecodeCollection(data)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(collectionKey(id), nil); err != nil {
		return err
	}
	if err := batch.Delete(nameKey(collection.Name), nil); err != nil {
		return err
	}
	prefix := associationPrefixFor(id)
	if err := batch.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
		return err
	}

	removed := 0
	err = s.scan([]byte(jobPrefix), func(key, value []byte) error {
		job, err := codec.DecodeJob(value)
		if err != nil {
			return err
		}
		if job.References(id) {
			removed++
			if err := batch.Delete(jobIDsKey(job.ID), nil); err != nil {
				return err
			}
			return batch.Delete(append([]byte(nil), key...), nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return err
	}
	s.logger.Debug().Str("collection", id.String()).Int("jobs_removed", removed).Msg("Deleted collection")
	return nil
}

// AssociationExists reports whether entityID belongs to the collection
func (s *Store) AssociationExists(ctx context.Context, entityID int64, collectionID uuid.UUID) (bool, error) {
	_, exists, err := s.get(associationKey(collectionID, entityID))
	return exists, err
}

// InsertAssociations writes all associations in one batch. Keys are unique per
// (collection, entity), so re-inserting a pair is a no-op.
func (s *Store) InsertAssociations(ctx context.Context, associations []domain.Association) error {
	if len(associations) == 0 {
		return nil
	}

	checked := make(map[uuid.UUID]bool)
	for _, a := range associations {
		if checked[a.CollectionID] {
			continue
		}
		exists, err := s.CollectionExists(ctx, a.CollectionID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.CollectionNotFound(a.CollectionID)
		}
		checked[a.CollectionID] = true
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, a := range associations {
		if err := batch.Set(associationKey(a.CollectionID, a.EntityID), nil, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// DeleteAssociation removes the pair if present
func (s *Store) DeleteAssociation(ctx context.Context, entityID int64, collectionID uuid.UUID) error {
	return s.db.Delete(associationKey(collectionID, entityID), pebble.Sync)
}

// ListEntityIDs returns the members of a collection in ascending order
func (s *Store) ListEntityIDs(ctx context.Context, collectionID uuid.UUID) ([]int64, error) {
	exists, err := s.CollectionExists(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.CollectionNotFound(collectionID)
	}

	ids := make([]int64, 0)
	err = s.scan(associationPrefixFor(collectionID), func(key, _ []byte) error {
		ids = append(ids, entityFromKey(key))
		return nil
	})
	return ids, err
}

// Stats returns record counts and Pebble disk usage
func (s *Store) Stats() map[string]interface{} {
	count := func(prefix string) int {
		n := 0
		if err := s.scan([]byte(prefix), func(_, _ []byte) error {
			n++
			return nil
		}); err != nil {
			s.logger.Warn().Err(err).Str("prefix", prefix).Msg("Stats scan failed")
		}
		return n
	}

	metrics := s.db.Metrics()
	return map[string]interface{}{
		"backend":          "pebble",
		"path":             s.path,
		"collections":      count(collectionPrefix),
		"associations":     count(associationPrefix),
		"jobs":             count(jobPrefix),
		"disk_usage_bytes": metrics.DiskSpaceUsage(),
	}
}
