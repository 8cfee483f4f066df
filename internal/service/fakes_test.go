package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"acervo/preservation-api/internal/archive"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Manual clock ---

// fakeClock runs scheduled functions only when the test calls Step.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.pending = append(c.pending, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Step moves time to the earliest live timer and runs it on the calling
// goroutine. It reports false when nothing is scheduled.
func (c *fakeClock) Step() bool {
	c.mu.Lock()
	var next *fakeTimer
	for _, t := range c.pending {
		if t.fired || t.stopped {
			continue
		}
		if next == nil || t.at.Before(next.at) {
			next = t
		}
	}
	if next == nil {
		c.mu.Unlock()
		return false
	}
	next.fired = true
	if next.at.After(c.now) {
		c.now = next.at
	}
	c.mu.Unlock()

	next.f()
	return true
}

// RunUntilIdle steps until nothing is scheduled or limit ticks ran.
func (c *fakeClock) RunUntilIdle(limit int) int {
	n := 0
	for n < limit && c.Step() {
		n++
	}
	return n
}

// Advance moves the clock forward without firing timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Pending counts live timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// --- Archive fake ---

type fakeArchive struct {
	mu    sync.Mutex
	calls map[string][]string

	startFn    func(name, accession, sourcePath string) (string, error)
	approveFn  func(directory, transferType string) (*archive.Ack, error)
	statusFn   func(transferID string) (*archive.TransferStatus, error)
	downloadFn func(storageID string) (*archive.Artifact, error)
	cancelFn   func(transferID string) (*archive.Ack, error)
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{calls: make(map[string][]string)}
}

func (f *fakeArchive) record(op, arg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op] = append(f.calls[op], arg)
}

// Calls returns the arguments each call of op was made with.
func (f *fakeArchive) Calls(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[op]...)
}

func (f *fakeArchive) StartTransfer(_ context.Context, name, accession, sourcePath string) (string, error) {
	f.record("start", sourcePath)
	if f.startFn != nil {
		return f.startFn(name, accession, sourcePath)
	}
	return "transfer-1", nil
}

func (f *fakeArchive) ApproveTransfer(_ context.Context, directory, transferType string) (*archive.Ack, error) {
	f.record("approve", directory+"|"+transferType)
	if f.approveFn != nil {
		return f.approveFn(directory, transferType)
	}
	return &archive.Ack{UUID: directory}, nil
}

func (f *fakeArchive) TransferStatus(_ context.Context, transferID string) (*archive.TransferStatus, error) {
	f.record("status", transferID)
	if f.statusFn != nil {
		return f.statusFn(transferID)
	}
	return &archive.TransferStatus{UUID: transferID, Status: archive.RemoteStarted}, nil
}

func (f *fakeArchive) DownloadArtifact(_ context.Context, storageID string) (*archive.Artifact, error) {
	f.record("download", storageID)
	if f.downloadFn != nil {
		return f.downloadFn(storageID)
	}
	return &archive.Artifact{Content: []byte("aip:" + storageID), ContentType: "application/octet-stream", FileName: storageID}, nil
}

func (f *fakeArchive) CancelTransfer(_ context.Context, transferID string) (*archive.Ack, error) {
	f.record("cancel", transferID)
	if f.cancelFn != nil {
		return f.cancelFn(transferID)
	}
	return &archive.Ack{}, nil
}

// pollResult is one scripted answer of the status endpoint.
type pollResult struct {
	state archive.TransferState
	err   error
}

var errArchiveDown = errors.New("dial tcp: connection refused")

// scriptedStatus answers polls from results in order and repeats the last one.
func scriptedStatus(results ...pollResult) func(string) (*archive.TransferStatus, error) {
	var mu sync.Mutex
	i := 0
	return func(transferID string) (*archive.TransferStatus, error) {
		mu.Lock()
		r := results[i]
		if i < len(results)-1 {
			i++
		}
		mu.Unlock()
		if r.err != nil {
			return nil, r.err
		}
		return &archive.TransferStatus{UUID: transferID, Status: r.state, Microservice: "Verify transfer compliance"}, nil
	}
}

// --- Observation sink ---

type recordingSink struct {
	mu      sync.Mutex
	obs     []Observation
	observe func(Observation) error
}

func (s *recordingSink) Observe(_ context.Context, obs Observation) error {
	s.mu.Lock()
	s.obs = append(s.obs, obs)
	fn := s.observe
	s.mu.Unlock()
	if fn != nil {
		return fn(obs)
	}
	return nil
}

func (s *recordingSink) Observations() []Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Observation(nil), s.obs...)
}

// --- Staging bucket fake ---

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]bool
	deleted []string
	presign error
}

func newFakeStorage(keys ...string) *fakeStorage {
	s := &fakeStorage{objects: make(map[string]bool)}
	for _, k := range keys {
		s.objects[k] = true
	}
	return s
}

func (s *fakeStorage) GeneratePresignedUploadURL(_ context.Context, objectKey, contentType string, expires time.Duration) (string, error) {
	if s.presign != nil {
		return "", s.presign
	}
	return "https://bucket.example/" + objectKey + "?X-Amz-Expires=" + expires.String() + "&ct=" + contentType, nil
}

func (s *fakeStorage) ObjectExists(_ context.Context, objectKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[objectKey], nil
}

func (s *fakeStorage) DeleteObject(_ context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectKey)
	s.deleted = append(s.deleted, objectKey)
	return nil
}
