package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"acervo/preservation-api/internal/domain"
	"acervo/preservation-api/internal/repository"
)

// StatusProjector is the only writer of Document.status. It turns coordinator
// observations into status writes keyed by document id.
type StatusProjector struct {
	repo   repository.DocumentRepository
	logger *slog.Logger
}

func NewStatusProjector(repo repository.DocumentRepository, logger *slog.Logger) *StatusProjector {
	return &StatusProjector{
		repo:   repo,
		logger: logger.With(slog.String("component", "status_projector")),
	}
}

// ProjectStatus maps an observation to the status it implies.
func ProjectStatus(obs Observation) domain.DocumentStatus {
	if obs.Err != nil {
		return domain.StatusFailed
	}
	return domain.StatusForOutcome(obs.Outcome)
}

// Observe writes the status implied by obs. Documents that are gone or already
// terminal reject the write with ErrObservationRejected.
func (p *StatusProjector) Observe(ctx context.Context, obs Observation) error {
	status := ProjectStatus(obs)

	err := p.repo.UpdateStatus(ctx, obs.DocumentID, status)
	if err != nil {
		if errors.Is(err, repository.ErrTerminalStatus) || errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrObservationRejected, err)
		}
		return fmt.Errorf("writing status %s for document %s: %w", status, obs.DocumentID, err)
	}

	if status.IsTerminal() {
		statusProjectionsTotal.WithLabelValues(string(status)).Inc()
		attrs := []any{
			slog.String("document_id", obs.DocumentID),
			slog.String("transfer_id", obs.TransferID),
			slog.String("status", string(status)),
			slog.Int("attempts", obs.Attempt),
		}
		if obs.Snapshot != nil {
			attrs = append(attrs, slog.String("sip_uuid", obs.Snapshot.SIPUUID), slog.String("message", obs.Snapshot.Message))
		}
		if obs.Err != nil {
			attrs = append(attrs, slog.String("cause", obs.Err.Error()))
		}
		p.logger.Info("document reached terminal status", attrs...)
	}
	return nil
}
