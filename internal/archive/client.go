// Package archive talks to the preservation archive (Archivematica dashboard and
// storage service). Every call is a single attempt; callers decide on retries.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"acervo/preservation-api/internal/config"
)

const (
	DefaultTransferType     = "standard"
	DefaultProcessingConfig = "default"

	// Upper bound on error bodies kept in StatusError.
	maxErrorBody = 2048

	DefaultMaxArtifactBytes int64 = 1 << 30
)

type endpoint struct {
	baseURL  string
	username string
	apiKey   string
}

// url builds base+path with the credentials appended as query parameters.
func (e endpoint) url(path string) string {
	q := url.Values{}
	q.Set("username", e.username)
	q.Set("api_key", e.apiKey)
	return e.baseURL + path + "?" + q.Encode()
}

// Client is a stateless HTTP client for the archive.
type Client struct {
	httpClient       *http.Client
	dashboard        endpoint
	storage          endpoint
	transferType     string
	processingConfig string
	maxArtifactBytes int64
	now              func() time.Time
	logger           *slog.Logger
}

// New creates an archive client from configuration.
func New(cfg config.ArchiveConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transferType := cfg.TransferType
	if transferType == "" {
		transferType = DefaultTransferType
	}
	processingConfig := cfg.ProcessingConfig
	if processingConfig == "" {
		processingConfig = DefaultProcessingConfig
	}
	maxArtifactBytes := cfg.ArtifactMaxBytes
	if maxArtifactBytes <= 0 {
		maxArtifactBytes = DefaultMaxArtifactBytes
	}
	// The storage service usually shares the dashboard's credentials.
	storageUser, storageKey := cfg.StorageUsername, cfg.StorageAPIKey
	if storageUser == "" {
		storageUser, storageKey = cfg.DashboardUsername, cfg.DashboardAPIKey
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		dashboard: endpoint{
			baseURL:  strings.TrimRight(cfg.DashboardURL, "/"),
			username: cfg.DashboardUsername,
			apiKey:   cfg.DashboardAPIKey,
		},
		storage: endpoint{
			baseURL:  strings.TrimRight(cfg.StorageURL, "/"),
			username: storageUser,
			apiKey:   storageKey,
		},
		transferType:     transferType,
		processingConfig: processingConfig,
		maxArtifactBytes: maxArtifactBytes,
		now:              time.Now,
		logger:           logger.With(slog.String("component", "archive_client")),
	}
}

// TransferType returns the configured transfer type.
func (c *Client) TransferType() string {
	return c.transferType
}

// StartTransfer asks the archive to start a transfer of sourcePath and returns
// the transfer id. An empty accession is replaced with the current Unix time in
// milliseconds so every attempt carries a distinct token.
// POST /api/transfer/start_transfer/
func (c *Client) StartTransfer(ctx context.Context, name, accession, sourcePath string) (string, error) {
	if accession == "" {
		accession = strconv.FormatInt(c.now().UnixMilli(), 10)
	}
	body := startTransferRequest{
		Name:      name,
		Type:      c.transferType,
		Accession: accession,
		Paths:     []string{sourcePath},
	}

	var resp startTransferResponse
	if err := c.doJSON(ctx, http.MethodPost, c.dashboard.url("/api/transfer/start_transfer/"), body, &resp); err != nil {
		c.logger.Error("start transfer failed", slog.String("name", name), slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: %w", ErrRemoteStartFailure, err)
	}
	if resp.UUID == "" {
		return "", fmt.Errorf("%w: response carries no transfer uuid", ErrRemoteStartFailure)
	}

	c.logger.Info("transfer started", slog.String("transfer_id", resp.UUID), slog.String("accession", accession))
	return resp.UUID, nil
}

// ApproveTransfer moves a transfer waiting for approval into processing.
// An empty transferType falls back to the configured one.
// POST /api/transfer/approve/
func (c *Client) ApproveTransfer(ctx context.Context, directory, transferType string) (*Ack, error) {
	if transferType == "" {
		transferType = c.transferType
	}
	body := approveTransferRequest{Type: transferType, Directory: directory}

	var ack Ack
	if err := c.doJSON(ctx, http.MethodPost, c.dashboard.url("/api/transfer/approve/"), body, &ack); err != nil {
		c.logger.Error("approve transfer failed", slog.String("directory", directory), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrRemoteApproveFailure, err)
	}
	return &ack, nil
}

// TransferStatus fetches a snapshot of the transfer.
// GET /api/transfer/status/{id}/
func (c *Client) TransferStatus(ctx context.Context, transferID string) (*TransferStatus, error) {
	var status TransferStatus
	path := "/api/transfer/status/" + url.PathEscape(transferID) + "/"
	if err := c.doJSON(ctx, http.MethodGet, c.dashboard.url(path), nil, &status); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteStatusFailure, err)
	}
	// An empty or null payload carries no state to act on.
	if status.Status == "" {
		return nil, fmt.Errorf("%w: empty status payload for %s", ErrRemoteStatusFailure, transferID)
	}
	return &status, nil
}

// UnapprovedTransfers lists transfers waiting for approval.
// GET /api/transfer/unapproved/
func (c *Client) UnapprovedTransfers(ctx context.Context) (*TransferListing, error) {
	return c.listing(ctx, "/api/transfer/unapproved/")
}

// CompletedTransfers lists transfers the archive has finished.
// GET /api/transfer/completed/
func (c *Client) CompletedTransfers(ctx context.Context) (*TransferListing, error) {
	return c.listing(ctx, "/api/transfer/completed/")
}

// listing never fails on an absent or empty record; it yields an empty listing.
func (c *Client) listing(ctx context.Context, path string) (*TransferListing, error) {
	var listing TransferListing
	err := c.doJSON(ctx, http.MethodGet, c.dashboard.url(path), nil, &listing)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return &TransferListing{Results: []TransferSummary{}}, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrRemoteStatusFailure, err)
	}
	if listing.Results == nil {
		listing.Results = []TransferSummary{}
	}
	return &listing, nil
}

// ProcessIngest continues ingest of a SIP using the given processing
// configuration (the configured default when empty).
// POST /api/ingest/process/{id}/
func (c *Client) ProcessIngest(ctx context.Context, sipID, processingConfig string) (*Ack, error) {
	if processingConfig == "" {
		processingConfig = c.processingConfig
	}
	path := "/api/ingest/process/" + url.PathEscape(sipID) + "/"

	var ack Ack
	if err := c.doJSON(ctx, http.MethodPost, c.dashboard.url(path), processIngestRequest{ProcessingConfig: processingConfig}, &ack); err != nil {
		c.logger.Error("process ingest failed", slog.String("sip_id", sipID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrRemoteIngestFailure, err)
	}
	return &ack, nil
}

// DownloadArtifact retrieves the preserved package stored under storageID.
// GET {storage}/api/v2beta/file/{id}/download/
func (c *Client) DownloadArtifact(ctx context.Context, storageID string) (*Artifact, error) {
	path := "/api/v2beta/file/" + url.PathEscape(storageID) + "/download/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.storage.url(path), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteDownloadFailure, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("download failed", slog.String("storage_id", storageID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrRemoteDownloadFailure, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		c.logger.Error("download rejected", slog.String("storage_id", storageID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrRemoteDownloadFailure, err)
	}

	if resp.ContentLength > c.maxArtifactBytes {
		return nil, c.tooLarge(storageID, resp.ContentLength)
	}
	content, err := io.ReadAll(io.LimitReader(resp.Body, c.maxArtifactBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrRemoteDownloadFailure, err)
	}
	if int64(len(content)) > c.maxArtifactBytes {
		return nil, c.tooLarge(storageID, -1)
	}

	artifact := &Artifact{
		Content:     content,
		ContentType: resp.Header.Get("Content-Type"),
		FileName:    storageID,
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		artifact.FileName = params["filename"]
	}
	if artifact.ContentType == "" {
		artifact.ContentType = "application/octet-stream"
	}
	return artifact, nil
}

func (c *Client) tooLarge(storageID string, size int64) error {
	c.logger.Error("package exceeds download limit",
		slog.String("storage_id", storageID),
		slog.Int64("content_length", size),
		slog.Int64("limit", c.maxArtifactBytes),
	)
	return fmt.Errorf("%w: %w (limit %d bytes)", ErrRemoteDownloadFailure, ErrArtifactTooLarge, c.maxArtifactBytes)
}

// CancelTransfer removes a transfer that has not been approved yet. The delete
// endpoint does not tell "not found" apart from other failures, so the unapproved
// listing is consulted first.
// DELETE /api/transfer/{id}/delete/
func (c *Client) CancelTransfer(ctx context.Context, transferID string) (*Ack, error) {
	unapproved, err := c.UnapprovedTransfers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteCancelFailure, err)
	}
	if !unapproved.Contains(transferID) {
		return nil, fmt.Errorf("%w: %s", ErrTransferNotFound, transferID)
	}

	path := "/api/transfer/" + url.PathEscape(transferID) + "/delete/"
	var ack Ack
	if err := c.doJSON(ctx, http.MethodDelete, c.dashboard.url(path), nil, &ack); err != nil {
		c.logger.Error("cancel transfer failed", slog.String("transfer_id", transferID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrRemoteCancelFailure, err)
	}

	c.logger.Info("transfer removed", slog.String("transfer_id", transferID))
	return &ack, nil
}

// doJSON sends body (if any) as JSON and decodes a JSON response into out.
// An empty response body leaves out untouched.
func (c *Client) doJSON(ctx context.Context, method, reqURL string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
