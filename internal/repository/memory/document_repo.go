// Package memory provides an in-process DocumentRepository. It backs the
// "memory" database driver and the service tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"acervo/preservation-api/internal/domain"
	"acervo/preservation-api/internal/repository"

	"github.com/google/uuid"
)

// DocumentRepository keeps documents in a map guarded by a mutex.
type DocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]domain.Document
	now  func() time.Time
}

var _ repository.DocumentRepository = (*DocumentRepository)(nil)

// Option configures a DocumentRepository.
type Option func(*DocumentRepository)

// WithClock sets the source of CreatedAt and UpdatedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *DocumentRepository) { r.now = now }
}

func NewDocumentRepository(opts ...Option) *DocumentRepository {
	r := &DocumentRepository{
		docs: make(map[string]domain.Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *DocumentRepository) Create(_ context.Context, doc *domain.Document) (string, error) {
	if doc.UserID == "" || doc.FilePath == "" {
		return "", errors.New("document requires userId and filePath")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc.ID = uuid.NewString()
	now := r.now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = domain.StatusStarted
	}
	if doc.UploadDate.IsZero() {
		doc.UploadDate = now
	}
	r.docs[doc.ID] = clone(*doc)
	return doc.ID, nil
}

func (r *DocumentRepository) GetByID(_ context.Context, id, userID string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[id]
	if !ok || doc.UserID != userID {
		return nil, repository.ErrNotFound
	}
	out := clone(doc)
	return &out, nil
}

func (r *DocumentRepository) GetAllByUser(_ context.Context, userID string) ([]domain.Document, error) {
	return r.collect(func(d domain.Document) bool { return d.UserID == userID }), nil
}

func (r *DocumentRepository) Find(_ context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	return r.collect(func(d domain.Document) bool { return matches(d, filter) }), nil
}

func (r *DocumentRepository) FindMonitorable(_ context.Context) ([]domain.Document, error) {
	return r.collect(func(d domain.Document) bool {
		return d.Status == domain.StatusStarted && d.ArchivematicaID != nil
	}), nil
}

func (r *DocumentRepository) DeleteStalePending(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, d := range r.docs {
		if d.Status == domain.StatusStarted && d.ArchivematicaID == nil && d.CreatedAt.Before(before) {
			delete(r.docs, id)
			n++
		}
	}
	return n, nil
}

func (r *DocumentRepository) Update(_ context.Context, id, userID string, patch domain.DocumentPatch) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok || doc.UserID != userID {
		return nil, repository.ErrNotFound
	}
	if !patch.IsEmpty() {
		if patch.Name != nil {
			doc.Name = *patch.Name
		}
		if patch.Description != nil {
			doc.Description = *patch.Description
		}
		if patch.Metadata != nil {
			doc.Metadata = *patch.Metadata
		}
		if patch.UploadDate != nil {
			doc.UploadDate = patch.UploadDate.UTC()
		}
		if patch.PreservationDate != nil {
			t := patch.PreservationDate.UTC()
			doc.PreservationDate = &t
		}
		doc.UpdatedAt = r.now()
		r.docs[id] = doc
	}
	out := clone(doc)
	return &out, nil
}

func (r *DocumentRepository) Delete(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok || doc.UserID != userID {
		return repository.ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

func (r *DocumentRepository) SetTransferID(_ context.Context, id, transferID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if doc.ArchivematicaID != nil {
		return repository.ErrAlreadyLinked
	}
	doc.ArchivematicaID = &transferID
	doc.UpdatedAt = r.now()
	r.docs[id] = doc
	return nil
}

func (r *DocumentRepository) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if doc.Status.IsTerminal() {
		return repository.ErrTerminalStatus
	}
	doc.Status = status
	doc.UpdatedAt = r.now()
	r.docs[id] = doc
	return nil
}

// collect returns copies of the matching documents, newest upload first.
func (r *DocumentRepository) collect(keep func(domain.Document) bool) []domain.Document {
	r.mu.RLock()
	out := []domain.Document{}
	for _, d := range r.docs {
		if keep(d) {
			out = append(out, clone(d))
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UploadDate.Equal(out[j].UploadDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadDate.After(out[j].UploadDate)
	})
	return out
}

func matches(d domain.Document, f domain.DocumentFilter) bool {
	if d.UserID != f.UserID {
		return false
	}
	if f.Name != "" && !containsFold(d.Name, f.Name) {
		return false
	}
	if f.Category != "" && d.Metadata.Category != f.Category {
		return false
	}
	if f.Keyword != "" && !containsFold(d.Metadata.Keyword, f.Keyword) {
		return false
	}
	if f.Description != "" && !containsFold(d.Description, f.Description) {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.StartDate != nil && d.UploadDate.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && d.UploadDate.After(*f.EndDate) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// clone detaches pointer fields so callers cannot mutate stored state.
func clone(d domain.Document) domain.Document {
	if d.ArchivematicaID != nil {
		id := *d.ArchivematicaID
		d.ArchivematicaID = &id
	}
	if d.PreservationDate != nil {
		t := *d.PreservationDate
		d.PreservationDate = &t
	}
	return d
}
