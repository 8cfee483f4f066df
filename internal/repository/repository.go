package repository

import (
	"context"
	"time"

	"acervo/preservation-api/internal/domain"
)

// Error constants for repository layer
var (
	ErrNotFound = RepositoryError("not found")
	// ErrTerminalStatus is returned by UpdateStatus when the document already
	// reached PRESERVADO or FALHA.
	ErrTerminalStatus = RepositoryError("status is terminal")
	ErrAlreadyLinked  = RepositoryError("transfer id already set")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// DocumentRepository defines the interface for interacting with document records.
// Every owner-facing method is scoped by userID.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) (string, error)
	GetByID(ctx context.Context, id, userID string) (*domain.Document, error)
	GetAllByUser(ctx context.Context, userID string) ([]domain.Document, error)
	// Find returns the documents matching filter, newest upload first.
	Find(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error)
	Update(ctx context.Context, id, userID string, patch domain.DocumentPatch) (*domain.Document, error)
	Delete(ctx context.Context, id, userID string) error

	// SetTransferID records the remote transfer id. It succeeds only once per document.
	SetTransferID(ctx context.Context, id, transferID string) error
	// UpdateStatus writes status unless the stored status is already terminal.
	// It is not owner-scoped; only the status projector calls it.
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus) error
	// FindMonitorable returns documents that still await a terminal status and
	// already carry a transfer id.
	FindMonitorable(ctx context.Context) ([]domain.Document, error)
	// DeleteStalePending removes INICIADA documents created earlier than before
	// that never received a transfer id, and returns how many were removed.
	DeleteStalePending(ctx context.Context, before time.Time) (int64, error)
}
