package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"acervo/preservation-api/internal/archive"
	"acervo/preservation-api/internal/config"
	"acervo/preservation-api/internal/domain"
)

func newTestCoordinator(client ArchiveClient, sink ObservationSink, clock Clock, cfg config.MonitorConfig) *Coordinator {
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	return NewCoordinator(client, sink, clock, cfg, "", discardLogger())
}

func TestBegin_StartsThenApproves(t *testing.T) {
	fa := newFakeArchive()
	fa.startFn = func(name, accession, sourcePath string) (string, error) {
		if name != "contract" || accession != "acc-7" || sourcePath != "/src/contract.pdf" {
			t.Errorf("start args = %q %q %q", name, accession, sourcePath)
		}
		return "abc-123", nil
	}
	c := newTestCoordinator(fa, &recordingSink{}, newFakeClock(), config.MonitorConfig{})

	id, err := c.Begin(context.Background(), BeginRequest{Name: "contract", Accession: "acc-7", SourcePath: "/src/contract.pdf"})
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if id != "abc-123" {
		t.Errorf("id = %q", id)
	}
	if got := fa.Calls("approve"); len(got) != 1 || got[0] != "abc-123|standard" {
		t.Errorf("approve calls = %v", got)
	}
	if c.Active("doc") || c.ActiveCount() != 0 {
		t.Error("Begin must not start monitoring")
	}
}

func TestBegin_StartFailureSkipsApproval(t *testing.T) {
	fa := newFakeArchive()
	fa.startFn = func(string, string, string) (string, error) {
		return "", fmt.Errorf("%w: %w", archive.ErrRemoteStartFailure, errArchiveDown)
	}
	c := newTestCoordinator(fa, &recordingSink{}, newFakeClock(), config.MonitorConfig{})

	_, err := c.Begin(context.Background(), BeginRequest{Name: "a", SourcePath: "/p"})
	if !errors.Is(err, archive.ErrRemoteStartFailure) {
		t.Fatalf("err = %v, want ErrRemoteStartFailure", err)
	}
	if n := len(fa.Calls("approve")); n != 0 {
		t.Errorf("approve called %d times", n)
	}
}

func TestBegin_ApproveFailureDiscardsTransfer(t *testing.T) {
	fa := newFakeArchive()
	fa.approveFn = func(string, string) (*archive.Ack, error) {
		return nil, fmt.Errorf("%w: boom", archive.ErrRemoteApproveFailure)
	}
	c := newTestCoordinator(fa, &recordingSink{}, newFakeClock(), config.MonitorConfig{})

	_, err := c.Begin(context.Background(), BeginRequest{Name: "a", SourcePath: "/p"})
	if !errors.Is(err, archive.ErrRemoteApproveFailure) {
		t.Fatalf("err = %v, want ErrRemoteApproveFailure", err)
	}
	if got := fa.Calls("cancel"); len(got) != 1 || got[0] != "transfer-1" {
		t.Errorf("cancel calls = %v", got)
	}
}

func TestMonitor_StopsAfterPreserved(t *testing.T) {
	fa := newFakeArchive()
	fa.statusFn = scriptedStatus(
		pollResult{state: archive.RemoteStarted},
		pollResult{state: "PROCESSING"},
		pollResult{state: archive.RemotePreserved},
	)
	sink := &recordingSink{}
	clock := newFakeClock()
	c := newTestCoordinator(fa, sink, clock, config.MonitorConfig{})

	c.Monitor("doc-1", "abc-123")
	if !c.Active("doc-1") {
		t.Fatal("monitor not registered")
	}

	if ticks := clock.RunUntilIdle(100); ticks != 3 {
		t.Errorf("ticks = %d, want 3", ticks)
	}

	obs := sink.Observations()
	if len(obs) != 3 {
		t.Fatalf("observations = %d, want 3", len(obs))
	}
	for i, want := range []domain.TransferOutcome{domain.OutcomeInProgress, domain.OutcomeInProgress, domain.OutcomeSucceeded} {
		if obs[i].Outcome != want || obs[i].Attempt != i+1 || obs[i].DocumentID != "doc-1" {
			t.Errorf("obs[%d] = %+v, want outcome %v attempt %d", i, obs[i], want, i+1)
		}
	}
	if clock.Pending() != 0 || c.Active("doc-1") {
		t.Error("polling continued after terminal status")
	}
	if n := len(fa.Calls("status")); n != 3 {
		t.Errorf("status calls = %d, want 3", n)
	}
}

func TestMonitor_StockFailureStatesAreTerminal(t *testing.T) {
	for _, state := range []archive.TransferState{archive.RemoteFailed, archive.RemoteNativeFailed, archive.RemoteNativeRejected} {
		t.Run(string(state), func(t *testing.T) {
			fa := newFakeArchive()
			fa.statusFn = scriptedStatus(pollResult{state: archive.RemoteStarted}, pollResult{state: state})
			sink := &recordingSink{}
			clock := newFakeClock()
			c := newTestCoordinator(fa, sink, clock, config.MonitorConfig{})

			c.Monitor("doc-1", "abc-123")
			clock.RunUntilIdle(100)

			obs := sink.Observations()
			if len(obs) != 2 || obs[1].Outcome != domain.OutcomeFailed {
				t.Fatalf("observations = %+v, want in progress then failed", obs)
			}
			if c.Active("doc-1") || clock.Pending() != 0 {
				t.Error("polling continued after a failed state")
			}
		})
	}
}

func TestMonitor_PollsAtInterval(t *testing.T) {
	fa := newFakeArchive()
	fa.statusFn = scriptedStatus(pollResult{state: archive.RemoteStarted}, pollResult{state: archive.RemoteFailed})
	clock := newFakeClock()
	start := clock.Now()
	c := newTestCoordinator(fa, &recordingSink{}, clock, config.MonitorConfig{Interval: 5 * time.Second})

	c.Monitor("doc-1", "abc")
	clock.Step() // immediate first poll
	if !clock.Now().Equal(start) {
		t.Errorf("first poll delayed by %v", clock.Now().Sub(start))
	}
	clock.Step()
	if got := clock.Now().Sub(start); got != 5*time.Second {
		t.Errorf("second poll after %v, want 5s", got)
	}
}

func TestMonitor_TransientErrorsKeepPolling(t *testing.T) {
	fa := newFakeArchive()
	fa.statusFn = scriptedStatus(
		pollResult{err: errArchiveDown},
		pollResult{err: errArchiveDown},
		pollResult{state: archive.RemoteFailed},
	)
	sink := &recordingSink{}
	clock := newFakeClock()
	c := newTestCoordinator(fa, sink, clock, config.MonitorConfig{})

	c.Monitor("doc-1", "abc")
	clock.RunUntilIdle(100)

	obs := sink.Observations()
	if len(obs) != 3 {
		t.Fatalf("observations = %d, want 3", len(obs))
	}
	for _, o := range obs[:2] {
		if o.Outcome != domain.OutcomeInProgress || !errors.Is(o.PollErr, errArchiveDown) || o.Err != nil {
			t.Errorf("transient observation = %+v", o)
		}
		if ProjectStatus(o) != domain.StatusStarted {
			t.Errorf("transient error projected to %s", ProjectStatus(o))
		}
	}
	if obs[2].Outcome != domain.OutcomeFailed || obs[2].Snapshot == nil {
		t.Errorf("final observation = %+v", obs[2])
	}
}

func TestMonitor_AttemptBudget(t *testing.T) {
	fa := newFakeArchive() // always INICIADA
	sink := &recordingSink{}
	clock := newFakeClock()
	c := newTestCoordinator(fa, sink, clock, config.MonitorConfig{MaxAttempts: 3})

	c.Monitor("doc-1", "abc")
	if ticks := clock.RunUntilIdle(100); ticks != 3 {
		t.Errorf("ticks = %d, want 3", ticks)
	}

	obs := sink.Observations()
	last := obs[len(obs)-1]
	if last.Outcome != domain.OutcomeFailed || !errors.Is(last.Err, ErrMonitorBudgetExhausted) {
		t.Errorf("last observation = %+v", last)
	}
	if ProjectStatus(last) != domain.StatusFailed {
		t.Errorf("budget exhaustion projected to %s", ProjectStatus(last))
	}
	if c.Active("doc-1") {
		t.Error("monitor still active")
	}
}

func TestMonitor_DurationBudget(t *testing.T) {
	fa := newFakeArchive()
	sink := &recordingSink{}
	clock := newFakeClock()
	c := newTestCoordinator(fa, sink, clock, config.MonitorConfig{Interval: time.Second, MaxDuration: 2500 * time.Millisecond})

	c.Monitor("doc-1", "abc")
	// Polls at 0s, 1s, 2s, 3s; the one at 3s is past the budget.
	if ticks := clock.RunUntilIdle(100); ticks != 4 {
		t.Errorf("ticks = %d, want 4", ticks)
	}
	obs := sink.Observations()
	if !errors.Is(obs[len(obs)-1].Err, ErrMonitorBudgetExhausted) {
		t.Errorf("last observation = %+v", obs[len(obs)-1])
	}
}

func TestCancel_StopsScheduledTick(t *testing.T) {
	fa := newFakeArchive()
	sink := &recordingSink{}
	clock := newFakeClock()
	c := newTestCoordinator(fa, sink, clock, config.MonitorConfig{})

	c.Monitor("doc-1", "abc")
	clock.Step()
	if clock.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", clock.Pending())
	}

	if !c.Cancel("doc-1") {
		t.Fatal("Cancel reported no monitor")
	}
	if c.Cancel("doc-1") {
		t.Error("second Cancel reported a monitor")
	}
	if clock.Step() {
		t.Error("tick ran after cancel")
	}
	if n := len(sink.Observations()); n != 1 {
		t.Errorf("observations = %d, want 1", n)
	}
}

func TestCancel_DuringPollDiscardsResult(t *testing.T) {
	fa := newFakeArchive()
	sink := &recordingSink{}
	clock := newFakeClock()
	c := newTestCoordinator(fa, sink, clock, config.MonitorConfig{})
	fa.statusFn = func(transferID string) (*archive.TransferStatus, error) {
		c.Cancel("doc-1") // document deleted while the archive answers
		return &archive.TransferStatus{UUID: transferID, Status: archive.RemotePreserved}, nil
	}

	c.Monitor("doc-1", "abc")
	clock.RunUntilIdle(10)

	if n := len(sink.Observations()); n != 0 {
		t.Errorf("observations = %d, want 0", n)
	}
	if clock.Pending() != 0 {
		t.Error("tick rescheduled after cancel")
	}
}

func TestMonitor_ReplacesPreviousMonitor(t *testing.T) {
	fa := newFakeArchive()
	sink := &recordingSink{}
	clock := newFakeClock()
	c := newTestCoordinator(fa, sink, clock, config.MonitorConfig{MaxAttempts: 1})

	c.Monitor("doc-1", "old")
	c.Monitor("doc-1", "new")
	clock.RunUntilIdle(10)

	if got := fa.Calls("status"); len(got) != 1 || got[0] != "new" {
		t.Errorf("status calls = %v, want only [new]", got)
	}
}

func TestMonitor_RejectedObservationStops(t *testing.T) {
	fa := newFakeArchive()
	sink := &recordingSink{observe: func(Observation) error {
		return fmt.Errorf("%w: gone", ErrObservationRejected)
	}}
	clock := newFakeClock()
	c := newTestCoordinator(fa, sink, clock, config.MonitorConfig{})

	c.Monitor("doc-1", "abc")
	if ticks := clock.RunUntilIdle(10); ticks != 1 {
		t.Errorf("ticks = %d, want 1", ticks)
	}
	if c.Active("doc-1") {
		t.Error("monitor still active")
	}
}

func TestMonitor_RetriesUnwrittenTerminalStatus(t *testing.T) {
	fa := newFakeArchive()
	fa.statusFn = scriptedStatus(pollResult{state: archive.RemotePreserved})
	failures := 1
	sink := &recordingSink{}
	sink.observe = func(Observation) error {
		if failures > 0 {
			failures--
			return errors.New("store unavailable")
		}
		return nil
	}
	clock := newFakeClock()
	c := newTestCoordinator(fa, sink, clock, config.MonitorConfig{})

	c.Monitor("doc-1", "abc")
	if ticks := clock.RunUntilIdle(10); ticks != 2 {
		t.Errorf("ticks = %d, want 2", ticks)
	}
	if c.Active("doc-1") {
		t.Error("monitor still active after terminal status was written")
	}
}

func TestShutdown_CancelsEverything(t *testing.T) {
	fa := newFakeArchive()
	clock := newFakeClock()
	c := newTestCoordinator(fa, &recordingSink{}, clock, config.MonitorConfig{})

	c.Monitor("doc-1", "a")
	c.Monitor("doc-2", "b")
	c.Shutdown()

	if c.ActiveCount() != 0 || clock.Pending() != 0 {
		t.Errorf("active = %d pending = %d after shutdown", c.ActiveCount(), clock.Pending())
	}
	c.Monitor("doc-3", "c")
	if c.Active("doc-3") {
		t.Error("monitor accepted after shutdown")
	}
}
