package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"acervo/preservation-api/internal/archive"
	"acervo/preservation-api/internal/config"
	"acervo/preservation-api/internal/domain"
)

const (
	defaultPollInterval = time.Second
	// Bounds a single projection write issued from a poll tick.
	projectionTimeout = 10 * time.Second
)

var (
	ErrMonitorBudgetExhausted = errors.New("preservation status did not settle within the monitoring budget")
	// ErrObservationRejected is returned by an ObservationSink when the document
	// can no longer take status writes. Monitoring stops when it is seen.
	ErrObservationRejected = errors.New("observation rejected")
)

// ArchiveClient is the part of the archive client the services use.
type ArchiveClient interface {
	StartTransfer(ctx context.Context, name, accession, sourcePath string) (string, error)
	ApproveTransfer(ctx context.Context, directory, transferType string) (*archive.Ack, error)
	TransferStatus(ctx context.Context, transferID string) (*archive.TransferStatus, error)
	DownloadArtifact(ctx context.Context, storageID string) (*archive.Artifact, error)
	CancelTransfer(ctx context.Context, transferID string) (*archive.Ack, error)
}

// Observation is one classified look at a remote transfer.
type Observation struct {
	DocumentID string
	TransferID string
	Attempt    int
	Outcome    domain.TransferOutcome
	Snapshot   *archive.TransferStatus // nil when the poll itself failed

	// Err is a terminal cause raised locally, e.g. an exhausted budget.
	// An observation carrying Err is always a failure.
	Err error
	// PollErr is a transient fetch error. The outcome stays in progress.
	PollErr error
}

// ObservationSink receives every observation of a monitored transfer, in order.
type ObservationSink interface {
	Observe(ctx context.Context, obs Observation) error
}

// BeginRequest describes the transfer to start for a document.
type BeginRequest struct {
	Name       string
	Accession  string
	SourcePath string
}

// monitor is the cancellation handle of one document's poll loop.
type monitor struct {
	documentID string
	transferID string
	started    time.Time
	attempts   int
	timer      Timer
	cancelled  bool
}

// Coordinator drives transfers through start, approval and status polling.
// It owns the table of in-flight monitors, keyed by document id; at most one
// monitor exists per document.
type Coordinator struct {
	client       ArchiveClient
	sink         ObservationSink
	clock        Clock
	interval     time.Duration
	maxAttempts  int
	maxDuration  time.Duration
	transferType string
	logger       *slog.Logger

	mu       sync.Mutex
	monitors map[string]*monitor
	closed   bool
}

// NewCoordinator creates a coordinator. A nil clock means SystemClock.
func NewCoordinator(
	client ArchiveClient,
	sink ObservationSink,
	clock Clock,
	cfg config.MonitorConfig,
	transferType string,
	logger *slog.Logger,
) *Coordinator {
	if clock == nil {
		clock = SystemClock
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if transferType == "" {
		transferType = archive.DefaultTransferType
	}
	return &Coordinator{
		client:       client,
		sink:         sink,
		clock:        clock,
		interval:     interval,
		maxAttempts:  cfg.MaxAttempts,
		maxDuration:  cfg.MaxDuration,
		transferType: transferType,
		logger:       logger.With(slog.String("component", "coordinator")),
		monitors:     make(map[string]*monitor),
	}
}

// Begin starts a transfer and approves it. It returns the transfer id only when
// both steps succeeded; no polling happens here.
func (c *Coordinator) Begin(ctx context.Context, req BeginRequest) (string, error) {
	transferID, err := c.client.StartTransfer(ctx, req.Name, req.Accession, req.SourcePath)
	if err != nil {
		transfersBegunTotal.WithLabelValues("start_failed").Inc()
		return "", err
	}

	if _, err := c.client.ApproveTransfer(ctx, transferID, c.transferType); err != nil {
		transfersBegunTotal.WithLabelValues("approve_failed").Inc()
		c.discardUnapproved(ctx, transferID)
		return "", err
	}

	transfersBegunTotal.WithLabelValues("ok").Inc()
	return transferID, nil
}

// discardUnapproved removes a transfer left waiting for approval after a failed
// approve. Failure here only costs an orphan on the archive side.
func (c *Coordinator) discardUnapproved(ctx context.Context, transferID string) {
	if _, err := c.client.CancelTransfer(context.WithoutCancel(ctx), transferID); err != nil {
		c.logger.Warn("could not discard unapproved transfer",
			slog.String("transfer_id", transferID),
			slog.String("error", err.Error()),
		)
	}
}

// Monitor starts polling transferID on behalf of documentID. The first poll is
// scheduled immediately. A previous monitor for the same document is cancelled.
func (c *Coordinator) Monitor(documentID, transferID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.logger.Warn("monitor requested after shutdown", slog.String("document_id", documentID))
		return
	}
	if prev, ok := c.monitors[documentID]; ok {
		prev.cancel()
	}

	m := &monitor{
		documentID: documentID,
		transferID: transferID,
		started:    c.clock.Now(),
	}
	c.monitors[documentID] = m
	activeMonitors.Set(float64(len(c.monitors)))
	m.timer = c.clock.AfterFunc(0, func() { c.tick(m) })

	c.logger.Info("monitoring transfer",
		slog.String("document_id", documentID),
		slog.String("transfer_id", transferID),
	)
}

// Cancel stops future polls for documentID. A poll already waiting on the
// archive completes, but its result is discarded. It reports whether a
// monitor was active.
func (c *Coordinator) Cancel(documentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.monitors[documentID]
	if !ok {
		return false
	}
	m.cancel()
	delete(c.monitors, documentID)
	activeMonitors.Set(float64(len(c.monitors)))
	return true
}

// Active reports whether documentID is being monitored.
func (c *Coordinator) Active(documentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.monitors[documentID]
	return ok
}

// ActiveCount returns the number of monitored documents.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.monitors)
}

// Shutdown cancels every monitor and refuses new ones.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for id, m := range c.monitors {
		m.cancel()
		delete(c.monitors, id)
	}
	activeMonitors.Set(0)
}

func (m *monitor) cancel() {
	m.cancelled = true
	if m.timer != nil {
		m.timer.Stop()
	}
}

// current reports whether m is still the live monitor of its document.
func (c *Coordinator) current(m *monitor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !m.cancelled && c.monitors[m.documentID] == m
}

// tick performs one poll. The next tick is only scheduled after this one's
// observation has been delivered.
func (c *Coordinator) tick(m *monitor) {
	c.mu.Lock()
	if m.cancelled || c.monitors[m.documentID] != m {
		c.mu.Unlock()
		return
	}
	m.attempts++
	attempt := m.attempts
	c.mu.Unlock()

	obs := c.observe(m, attempt)

	// The document may have been removed while the archive was answering.
	if !c.current(m) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), projectionTimeout)
	err := c.sink.Observe(ctx, obs)
	cancel()

	switch {
	case err == nil && obs.Outcome != domain.OutcomeInProgress:
		c.finish(m)
		return
	case errors.Is(err, ErrObservationRejected):
		c.logger.Info("stopping monitor, document no longer accepts status",
			slog.String("document_id", m.documentID),
			slog.String("reason", err.Error()),
		)
		c.finish(m)
		return
	case err != nil:
		// A terminal outcome that could not be written is observed again on
		// the next tick.
		c.logger.Error("status projection failed",
			slog.String("document_id", m.documentID),
			slog.String("outcome", obs.Outcome.String()),
			slog.String("error", err.Error()),
		)
	}

	c.schedule(m)
}

// observe polls the archive and classifies the answer.
func (c *Coordinator) observe(m *monitor, attempt int) Observation {
	obs := Observation{
		DocumentID: m.documentID,
		TransferID: m.transferID,
		Attempt:    attempt,
		Outcome:    domain.OutcomeInProgress,
	}

	status, err := c.client.TransferStatus(context.Background(), m.transferID)
	if err != nil {
		statusPollsTotal.WithLabelValues("error").Inc()
		obs.PollErr = err
		c.logger.Warn("status poll failed, will retry",
			slog.String("document_id", m.documentID),
			slog.String("transfer_id", m.transferID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	} else {
		obs.Snapshot = status
		obs.Outcome = status.Status.Outcome()
		statusPollsTotal.WithLabelValues(obs.Outcome.String()).Inc()
		c.logger.Debug("status polled",
			slog.String("document_id", m.documentID),
			slog.String("remote_status", string(status.Status)),
			slog.String("microservice", status.Microservice),
			slog.Int("attempt", attempt),
		)
	}

	if obs.Outcome == domain.OutcomeInProgress && c.budgetExhausted(m, attempt) {
		obs.Outcome = domain.OutcomeFailed
		obs.Err = ErrMonitorBudgetExhausted
		c.logger.Warn("monitoring budget exhausted",
			slog.String("document_id", m.documentID),
			slog.String("transfer_id", m.transferID),
			slog.Int("attempts", attempt),
		)
	}
	return obs
}

func (c *Coordinator) budgetExhausted(m *monitor, attempt int) bool {
	if c.maxAttempts > 0 && attempt >= c.maxAttempts {
		return true
	}
	if c.maxDuration > 0 && c.clock.Now().Sub(m.started) >= c.maxDuration {
		return true
	}
	return false
}

func (c *Coordinator) schedule(m *monitor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || m.cancelled || c.monitors[m.documentID] != m {
		return
	}
	m.timer = c.clock.AfterFunc(c.interval, func() { c.tick(m) })
}

// finish removes m from the table once its transfer reached a terminal state.
func (c *Coordinator) finish(m *monitor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitors[m.documentID] != m {
		return
	}
	m.cancelled = true
	delete(c.monitors, m.documentID)
	activeMonitors.Set(float64(len(c.monitors)))
	monitorDuration.Observe(c.clock.Now().Sub(m.started).Seconds())
}
