// Package blobstore stores source documents — the uploaded clinical files
// that reconciliation attributes entries to. It defines the Store interface,
// an in-memory implementation suitable for testing and development, and Echo
// HTTP handlers for multipart upload, download, listing, and metadata update.
//
// Blobs are keyed by patient key plus an opaque blob id. The reconciliation
// layer records blob ids as source references and resolves display filenames
// through the narrow Resolver view.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrMissingFileName = errors.New("file name is required")
)

// MaxFileSize is the maximum allowed blob size in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

// Metadata describes a stored source document.
type Metadata struct {
	ID          string            `json:"id"`
	PatientKey  string            `json:"patient_key"`
	FileName    string            `json:"filename"`
	ContentType string            `json:"mime_type"`
	Size        int64             `json:"size"`
	Hash        string            `json:"hash"`
	UploadDate  time.Time         `json:"upload_date"`
	Fields      map[string]string `json:"metadata,omitempty"`
}

// Store is the contract for source-document storage backends.
type Store interface {
	Put(ctx context.Context, patientKey string, content io.Reader, meta Metadata) (string, error)
	Get(ctx context.Context, patientKey, id string) (io.ReadCloser, *Metadata, error)
	List(ctx context.Context, patientKey string) ([]*Metadata, error)
	UpdateMetadata(ctx context.Context, patientKey, id string, fields map[string]string) error
	Count(ctx context.Context, patientKey string) (int, error)
}

type storedBlob struct {
	metadata Metadata
	content  []byte
}

// InMemoryStore is a thread-safe, in-memory Store for testing/dev.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]map[string]*storedBlob // patientKey -> id -> blob
}

// NewInMemoryStore returns a ready-to-use InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		blobs: make(map[string]map[string]*storedBlob),
	}
}

// Put validates inputs, reads the content, computes a SHA-256 hash, and
// stores the blob under the patient's key. It returns the new blob id.
func (s *InMemoryStore) Put(_ context.Context, patientKey string, content io.Reader, meta Metadata) (string, error) {
	if meta.FileName == "" {
		return "", ErrMissingFileName
	}

	// Read content into memory so we can measure size and compute the hash.
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return "", ErrFileTooLarge
	}

	h := sha256.Sum256(data)

	meta.ID = uuid.New().String()
	meta.PatientKey = patientKey
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", h)
	meta.UploadDate = time.Now().UTC()
	if meta.Fields == nil {
		meta.Fields = make(map[string]string)
	}

	s.mu.Lock()
	if s.blobs[patientKey] == nil {
		s.blobs[patientKey] = make(map[string]*storedBlob)
	}
	s.blobs[patientKey][meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	return meta.ID, nil
}

// Get returns an io.ReadCloser over the blob content and its metadata.
func (s *InMemoryStore) Get(_ context.Context, patientKey, id string) (io.ReadCloser, *Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[patientKey][id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	meta := blob.metadata // copy
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

// List returns metadata for all of a patient's source documents.
func (s *InMemoryStore) List(_ context.Context, patientKey string) ([]*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Metadata
	for _, b := range s.blobs[patientKey] {
		m := b.metadata // copy
		out = append(out, &m)
	}
	return out, nil
}

// UpdateMetadata merges the supplied fields into the blob's metadata.
func (s *InMemoryStore) UpdateMetadata(_ context.Context, patientKey, id string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, ok := s.blobs[patientKey][id]
	if !ok {
		return ErrBlobNotFound
	}
	for k, v := range fields {
		blob.metadata.Fields[k] = v
	}
	return nil
}

// Count returns the number of source documents stored for a patient.
func (s *InMemoryStore) Count(_ context.Context, patientKey string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs[patientKey]), nil
}

// Resolver adapts a Store to the filename lookup the attribution ledger
// needs. Unknown source ids resolve to an empty filename rather than an
// error: attribution chains must render even when a source document has
// been removed from storage.
type Resolver struct {
	store Store
}

// NewResolver wraps a Store for filename resolution.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) Filename(ctx context.Context, patientKey, sourceID string) (string, error) {
	rc, meta, err := r.store.Get(ctx, patientKey, sourceID)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return "", nil
		}
		return "", err
	}
	rc.Close()
	return meta.FileName, nil
}
