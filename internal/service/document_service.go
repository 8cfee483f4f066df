package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"acervo/preservation-api/internal/archive"
	"acervo/preservation-api/internal/config"
	"acervo/preservation-api/internal/domain"
	"acervo/preservation-api/internal/repository"
	"acervo/preservation-api/internal/storage"
)

// --- Error Definitions ---
var (
	ErrDocumentNotFound       = errors.New("document not found")
	ErrDocumentCreationFailed = errors.New("could not start preservation")
	ErrNotPreservedYet        = errors.New("document not preserved yet")
	ErrValidationFailed       = errors.New("document validation failed")
	ErrSourceNotUploaded      = errors.New("transfer source has not been uploaded")
	ErrSourceNotOwned         = errors.New("transfer source belongs to another user")
	ErrStagingDisabled        = errors.New("upload staging is not configured")
)

// A Create still running after this long has lost its request context.
const stalePendingAge = 15 * time.Minute

// StatusCheckFailedMessage is reported in place of a remote snapshot the
// archive could not provide.
const StatusCheckFailedMessage = "could not check preservation status"

// CreateDocumentInput carries what a caller supplies for a new document.
type CreateDocumentInput struct {
	Name             string
	FilePath         string
	Description      string
	Metadata         domain.Metadata
	UploadDate       time.Time
	PreservationDate *time.Time
	// Accession is optional; the archive client generates one when empty.
	Accession string
}

// DocumentDetails is a document plus, for preserved documents, the archive's
// current view of its transfer.
type DocumentDetails struct {
	domain.Document
	Transfer      *archive.TransferStatus
	TransferError string
}

// StatusReport is the local status of a document next to the remote one.
type StatusReport struct {
	Status        domain.DocumentStatus
	Transfer      *archive.TransferStatus
	TransferError string
}

// UploadTicket tells a client where to PUT a transfer source and which
// filePath to use when creating the document afterwards.
type UploadTicket struct {
	UploadURL string
	ObjectKey string
	FilePath  string
	ExpiresAt time.Time
}

// --- Service Interface ---
type DocumentService interface {
	Create(ctx context.Context, input CreateDocumentInput, userID string) (*domain.Document, error)
	GetAll(ctx context.Context, userID string) ([]domain.Document, error)
	GetByID(ctx context.Context, id, userID string) (*DocumentDetails, error)
	Filter(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error)
	Update(ctx context.Context, id, userID string, patch domain.DocumentPatch) (*domain.Document, error)
	Download(ctx context.Context, id, userID string) (*archive.Artifact, error)
	Remove(ctx context.Context, id, userID string) error
	StatusOf(ctx context.Context, id, userID string) (*StatusReport, error)
	PrepareUpload(ctx context.Context, userID, fileName, contentType string) (*UploadTicket, error)
	ResumeMonitoring(ctx context.Context) (int, error)
}

// --- Service Implementation ---

type documentService struct {
	repo        repository.DocumentRepository
	archive     ArchiveClient
	coordinator *Coordinator
	files       storage.FileStorage // nil when staging is disabled
	artifacts   *ArtifactCache
	staging     config.S3Config
	logger      *slog.Logger
}

// NewDocumentService wires the facade. files and artifacts may be nil.
func NewDocumentService(
	repo repository.DocumentRepository,
	archiveClient ArchiveClient,
	coordinator *Coordinator,
	files storage.FileStorage,
	artifacts *ArtifactCache,
	staging config.S3Config,
	logger *slog.Logger,
) DocumentService {
	return &documentService{
		repo:        repo,
		archive:     archiveClient,
		coordinator: coordinator,
		files:       files,
		artifacts:   artifacts,
		staging:     staging,
		logger:      logger.With(slog.String("component", "document_service")),
	}
}

// Create persists a pending document and hands it to the archive. Either the
// document ends up linked to an approved transfer and monitored, or nothing is
// left behind.
func (s *documentService) Create(ctx context.Context, input CreateDocumentInput, userID string) (*domain.Document, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.FilePath = strings.TrimSpace(input.FilePath)
	if userID == "" || input.Name == "" || input.FilePath == "" {
		return nil, ErrValidationFailed
	}
	if err := s.checkStagedSource(ctx, input.FilePath, userID); err != nil {
		return nil, err
	}

	doc := &domain.Document{
		UserID:           userID,
		Name:             input.Name,
		FilePath:         input.FilePath,
		Status:           domain.StatusStarted,
		Description:      input.Description,
		Metadata:         input.Metadata,
		UploadDate:       input.UploadDate,
		PreservationDate: input.PreservationDate,
	}

	// 1. Pending record
	id, err := s.repo.Create(ctx, doc)
	if err != nil {
		return nil, err
	}

	// 2. Remote start + approve
	transferID, err := s.coordinator.Begin(ctx, BeginRequest{
		Name:       doc.Name,
		Accession:  input.Accession,
		SourcePath: doc.FilePath,
	})
	if err != nil {
		s.discardPending(ctx, id, userID)
		s.logger.Error("document creation failed", slog.String("stage", "begin"), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrDocumentCreationFailed, err)
	}

	// 3. Link
	if err := s.repo.SetTransferID(ctx, id, transferID); err != nil {
		s.discardPending(ctx, id, userID)
		s.logger.Error("document creation failed, transfer left orphaned",
			slog.String("stage", "link"),
			slog.String("transfer_id", transferID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrDocumentCreationFailed, err)
	}
	doc.ArchivematicaID = &transferID

	// 4. Poll until terminal
	s.coordinator.Monitor(id, transferID)

	s.logger.Info("document created",
		slog.String("document_id", id),
		slog.String("transfer_id", transferID),
		slog.String("user_id", userID),
	)
	return doc, nil
}

// checkStagedSource verifies that a file path pointing into the staging bucket
// was uploaded by userID. Other paths are the archive's business.
func (s *documentService) checkStagedSource(ctx context.Context, filePath, userID string) error {
	if s.files == nil {
		return nil
	}
	key, ok := storage.StagedKey(s.staging.TransferLocation, filePath)
	if !ok {
		return nil
	}
	if !storage.OwnsStagedKey(key, userID) {
		s.logger.Warn("staged source of another user referenced",
			slog.String("user_id", userID),
			slog.String("key", key),
		)
		return ErrSourceNotOwned
	}
	exists, err := s.files.ObjectExists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrSourceNotUploaded
	}
	return nil
}

func (s *documentService) discardPending(ctx context.Context, id, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.Delete(ctx, id, userID); err != nil {
		s.logger.Error("could not discard pending document",
			slog.String("document_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// GetAll lists the owner's documents, newest upload first.
func (s *documentService) GetAll(ctx context.Context, userID string) ([]domain.Document, error) {
	return s.repo.GetAllByUser(ctx, userID)
}

// GetByID returns a document. Preserved documents are enriched with a fresh
// remote snapshot; when the archive cannot answer, the local data is still
// returned and TransferError says so.
func (s *documentService) GetByID(ctx context.Context, id, userID string) (*DocumentDetails, error) {
	doc, err := s.get(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	details := &DocumentDetails{Document: *doc}
	if doc.Status == domain.StatusPreserved && doc.TransferID() != "" {
		details.Transfer, details.TransferError = s.snapshot(ctx, doc)
	}
	return details, nil
}

// Filter is a plain store query.
func (s *documentService) Filter(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	if filter.UserID == "" {
		return nil, ErrValidationFailed
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrValidationFailed
	}
	return s.repo.Find(ctx, filter)
}

// Update changes descriptive metadata only.
func (s *documentService) Update(ctx context.Context, id, userID string, patch domain.DocumentPatch) (*domain.Document, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, ErrValidationFailed
	}
	doc, err := s.repo.Update(ctx, id, userID, patch)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

// Download returns the preserved package, byte for byte as the archive sent it.
func (s *documentService) Download(ctx context.Context, id, userID string) (*archive.Artifact, error) {
	doc, err := s.get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !doc.IsDownloadable() {
		downloadsTotal.WithLabelValues("not_preserved").Inc()
		return nil, ErrNotPreservedYet
	}

	storageID := doc.TransferID()
	if cached, ok := s.artifacts.Get(storageID); ok {
		downloadsTotal.WithLabelValues("ok").Inc()
		return cached, nil
	}

	artifact, err := s.archive.DownloadArtifact(ctx, storageID)
	if err != nil {
		downloadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if s.artifacts != nil && !s.artifacts.Set(storageID, artifact) {
		s.logger.Debug("package too large to cache",
			slog.String("document_id", id),
			slog.Int("bytes", len(artifact.Content)),
		)
	}
	downloadsTotal.WithLabelValues("ok").Inc()
	return artifact, nil
}

// Remove cancels the remote transfer, stops monitoring and deletes the record.
// If the archive no longer lists the transfer as unapproved the local record
// is kept and archive.ErrTransferNotFound is returned.
func (s *documentService) Remove(ctx context.Context, id, userID string) error {
	doc, err := s.get(ctx, id, userID)
	if err != nil {
		return err
	}

	if transferID := doc.TransferID(); transferID != "" {
		if _, err := s.archive.CancelTransfer(ctx, transferID); err != nil {
			s.logger.Warn("remote cancellation refused, keeping document",
				slog.String("document_id", id),
				slog.String("transfer_id", transferID),
				slog.String("error", err.Error()),
			)
			return err
		}
		s.artifacts.Delete(transferID)
	}

	s.coordinator.Cancel(id)

	if err := s.repo.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}

	s.removeStagedSource(ctx, doc.FilePath, userID)
	s.logger.Info("document removed", slog.String("document_id", id), slog.String("user_id", userID))
	return nil
}

// removeStagedSource deletes the uploaded source of a removed document.
// Failure leaves an unreferenced object in the bucket and is only logged.
func (s *documentService) removeStagedSource(ctx context.Context, filePath, userID string) {
	if s.files == nil {
		return
	}
	key, ok := storage.StagedKey(s.staging.TransferLocation, filePath)
	if !ok || !storage.OwnsStagedKey(key, userID) {
		return
	}
	if err := s.files.DeleteObject(ctx, key); err != nil {
		s.logger.Warn("could not delete transfer source", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// StatusOf reports local and remote status. It never starts or stops polling.
func (s *documentService) StatusOf(ctx context.Context, id, userID string) (*StatusReport, error) {
	doc, err := s.get(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{Status: doc.Status}
	if doc.TransferID() != "" {
		report.Transfer, report.TransferError = s.snapshot(ctx, doc)
	}
	return report, nil
}

// PrepareUpload reserves a staging key and presigns an upload into it.
func (s *documentService) PrepareUpload(ctx context.Context, userID, fileName, contentType string) (*UploadTicket, error) {
	if s.files == nil {
		return nil, ErrStagingDisabled
	}
	if userID == "" || strings.TrimSpace(fileName) == "" {
		return nil, ErrValidationFailed
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	expires := s.staging.UploadExpiry
	if expires <= 0 {
		expires = storage.DefaultPresignedURLExpiry
	}

	key := storage.NewStagingKey(userID, fileName)
	url, err := s.files.GeneratePresignedUploadURL(ctx, key, contentType, expires)
	if err != nil {
		return nil, err
	}

	return &UploadTicket{
		UploadURL: url,
		ObjectKey: key,
		FilePath:  storage.TransferPath(s.staging.TransferLocation, key),
		ExpiresAt: time.Now().UTC().Add(expires),
	}, nil
}

// ResumeMonitoring re-attaches monitors for documents whose transfer was still
// in flight when the process last stopped. Pending documents older than
// stalePendingAge that never got a transfer id are left over from an
// interrupted Create and are deleted.
func (s *documentService) ResumeMonitoring(ctx context.Context) (int, error) {
	cutoff := s.coordinator.clock.Now().Add(-stalePendingAge)
	if n, err := s.repo.DeleteStalePending(ctx, cutoff); err != nil {
		s.logger.Error("could not sweep stale pending documents", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Warn("removed pending documents without a transfer", slog.Int64("documents", n))
	}

	docs, err := s.repo.FindMonitorable(ctx)
	if err != nil {
		return 0, err
	}
	for _, d := range docs {
		s.coordinator.Monitor(d.ID, d.TransferID())
	}
	if len(docs) > 0 {
		s.logger.Info("resumed monitoring", slog.Int("documents", len(docs)))
	}
	return len(docs), nil
}

func (s *documentService) get(ctx context.Context, id, userID string) (*domain.Document, error) {
	doc, err := s.repo.GetByID(ctx, id, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

// snapshot reads the remote status through to the archive. A failure is
// reported as a message, never as an error.
func (s *documentService) snapshot(ctx context.Context, doc *domain.Document) (*archive.TransferStatus, string) {
	status, err := s.archive.TransferStatus(ctx, doc.TransferID())
	if err != nil {
		s.logger.Warn("remote status unavailable, serving local data",
			slog.String("document_id", doc.ID),
			slog.String("transfer_id", doc.TransferID()),
			slog.String("error", err.Error()),
		)
		return nil, StatusCheckFailedMessage
	}
	return status, ""
}
