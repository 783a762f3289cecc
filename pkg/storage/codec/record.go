package codec

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/adfharrison1/go-batch/pkg/domain"
)

// JobRecord is the persisted layout of a batch job. The identifier list is
// serialized once at creation and stored as a compressed block.
type JobRecord struct {
	ID                 string    `msgpack:"id"`
	JobType            string    `msgpack:"job_type"`
	SourceCollectionID string    `msgpack:"source_collection_id"`
	TargetCollectionID *string   `msgpack:"target_collection_id"`
	TotalCount         int       `msgpack:"total_count"`
	ProcessedCount     int       `msgpack:"processed_count"`
	Status             string    `msgpack:"status"`
	EntityIDs          Block     `msgpack:"entity_ids"`
	ErrorMessage       *string   `msgpack:"error_message"`
	CreatedAt          time.Time `msgpack:"created_at"`
	UpdatedAt          time.Time `msgpack:"updated_at"`
}

// CollectionRecord is the persisted layout of a collection
type CollectionRecord struct {
	ID        string    `msgpack:"id"`
	Name      string    `msgpack:"collection_name"`
	CreatedAt time.Time `msgpack:"created_at"`
}

// EncodeIDs serializes an identifier list into a compressed block
func EncodeIDs(ids []int64) (Block, error) {
	raw, err := msgpack.Marshal(ids)
	if err != nil {
		return Block{}, fmt.Errorf("failed to encode MessagePack: %w", err)
	}
	return CompressBlock(raw)
}

// DecodeIDs reverses EncodeIDs
func DecodeIDs(b Block) ([]int64, error) {
	if b.RawLen == 0 && len(b.Data) == 0 {
		return []int64{}, nil
	}
	raw, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := msgpack.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode MessagePack: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// ToJobRecord converts a job into its persisted layout
func ToJobRecord(job *domain.BatchJob) (*JobRecord, error) {
	ids, err := EncodeIDs(job.EntityIDs)
	if err != nil {
		return nil, err
	}
	rec := metaRecord(job)
	rec.EntityIDs = ids
	return rec, nil
}

// metaRecord holds every job field except the identifier list
func metaRecord(job *domain.BatchJob) *JobRecord {
	rec := &JobRecord{
		ID:                 job.ID.String(),
		JobType:            string(job.Type),
		SourceCollectionID: job.SourceCollectionID.String(),
		TotalCount:         job.TotalCount,
		ProcessedCount:     job.ProcessedCount,
		Status:             string(job.Status),
		ErrorMessage:       job.ErrorMessage,
		CreatedAt:          job.CreatedAt,
		UpdatedAt:          job.UpdatedAt,
	}
	if job.TargetCollectionID != nil {
		t := job.TargetCollectionID.String()
		rec.TargetCollectionID = &t
	}
	return rec
}

// Job converts the record back into a domain job
func (r *JobRecord) Job() (*domain.BatchJob, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", r.ID, err)
	}
	source, err := uuid.Parse(r.SourceCollectionID)
	if err != nil {
		return nil, fmt.Errorf("invalid source collection id %q: %w", r.SourceCollectionID, err)
	}
	ids, err := DecodeIDs(r.EntityIDs)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", r.ID, err)
	}
	job := &domain.BatchJob{
		ID:                 id,
		Type:               domain.JobType(r.JobType),
		SourceCollectionID: source,
		EntityIDs:          ids,
		TotalCount:         r.TotalCount,
		ProcessedCount:     r.ProcessedCount,
		Status:             domain.JobStatus(r.Status),
		ErrorMessage:       r.ErrorMessage,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if r.TargetCollectionID != nil {
		target, err := uuid.Parse(*r.TargetCollectionID)
		if err != nil {
			return nil, fmt.Errorf("invalid target collection id %q: %w", *r.TargetCollectionID, err)
		}
		job.TargetCollectionID = &target
	}
	return job, nil
}

// EncodeJob marshals a job into bytes
func EncodeJob(job *domain.BatchJob) ([]byte, error) {
	rec, err := ToJobRecord(job)
	if err != nil {
		return nil, err
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode MessagePack: %w", err)
	}
	return data, nil
}

// EncodeJobMeta marshals a job without its identifier list. Stores that keep
// the list under its own key use it for every write after creation.
func EncodeJobMeta(job *domain.BatchJob) ([]byte, error) {
	data, err := msgpack.Marshal(metaRecord(job))
	if err != nil {
		return nil, fmt.Errorf("failed to encode MessagePack: %w", err)
	}
	return data, nil
}

// EncodeIDBlock marshals an identifier list as a standalone compressed block
func EncodeIDBlock(ids []int64) ([]byte, error) {
	b, err := EncodeIDs(ids)
	if err != nil {
		return nil, err
	}
	data, err := msgpack.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode MessagePack: %w", err)
	}
	return data, nil
}

// DecodeIDBlock reverses EncodeIDBlock
func DecodeIDBlock(data []byte) ([]int64, error) {
	var b Block
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode MessagePack: %w", err)
	}
	return DecodeIDs(b)
}

// DecodeJob unmarshals bytes produced by EncodeJob or EncodeJobMeta. A
// record without an identifier block decodes with an empty list.
func DecodeJob(data []byte) (*domain.BatchJob, error) {
	var rec JobRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode MessagePack: %w", err)
	}
	return rec.Job()
}

// ToCollectionRecord converts a collection into its persisted layout
func ToCollectionRecord(c *domain.Collection) CollectionRecord {
	return CollectionRecord{ID: c.ID.String(), Name: c.Name, CreatedAt: c.CreatedAt}
}

// Collection converts the record back into a domain collection
func (r CollectionRecord) Collection() (*domain.Collection, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid collection id %q: %w", r.ID, err)
	}
	return &domain.Collection{ID: id, Name: r.Name, CreatedAt: r.CreatedAt.UTC()}, nil
}

// EncodeCollection marshals a collection into bytes
func EncodeCollection(c *domain.Collection) ([]byte, error) {
	data, err := msgpack.Marshal(ToCollectionRecord(c))
	if err != nil {
		return nil, fmt.Errorf("failed to encode MessagePack: %w", err)
	}
	return data, nil
}

// DecodeCollection unmarshals bytes produced by EncodeCollection
func DecodeCollection(data []byte) (*domain.Collection, error) {
	var rec CollectionRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode MessagePack: %w", err)
	}
	return rec.Collection()
}

// Snapshot is the full-state payload of a snapshot file
type Snapshot struct {
	Collections  []CollectionRecord `msgpack:"collections"`
	Associations map[string][]int64 `msgpack:"associations"` // collection id -> entity ids
	Jobs         []JobRecord        `msgpack:"jobs"`
}

// NewSnapshot creates an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Collections:  make([]CollectionRecord, 0),
		Associations: make(map[string][]int64),
		Jobs:         make([]JobRecord, 0),
	}
}

// WriteSnapshot writes header + compressed msgpack payload
func WriteSnapshot(w io.Writer, snap *Snapshot) error {
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode MessagePack: %w", err)
	}
	block, err := CompressBlock(payload)
	if err != nil {
		return err
	}
	var flags uint8
	if block.Compressed {
		flags |= FlagCompressed
	}
	if err := WriteHeader(w, flags); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	body, err := msgpack.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to encode MessagePack: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write compressed data: %w", err)
	}
	return nil
}

// ReadSnapshot reads a snapshot written by WriteSnapshot
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	if _, err := ReadHeader(r); err != nil {
		return nil, fmt.Errorf("invalid file header: %w", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read compressed data: %w", err)
	}
	var block Block
	if err := msgpack.Unmarshal(body, &block); err != nil {
		return nil, fmt.Errorf("failed to decode MessagePack: %w", err)
	}
	payload, err := block.Bytes()
	if err != nil {
		return nil, err
	}
	snap := NewSnapshot()
	if len(payload) == 0 {
		return snap, nil
	}
	if err := msgpack.Unmarshal(payload, snap); err != nil {
		return nil, fmt.Errorf("failed to decode MessagePack: %w", err)
	}
	return snap, nil
}
