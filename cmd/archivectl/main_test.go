package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"acervo/preservation-api/internal/archive"
)

type fakeArchiveAPI struct {
	calls []string
}

func (f *fakeArchiveAPI) UnapprovedTransfers(context.Context) (*archive.TransferListing, error) {
	f.calls = append(f.calls, "unapproved")
	return &archive.TransferListing{Results: []archive.TransferSummary{{UUID: "x", Directory: "deed-x"}}}, nil
}

func (f *fakeArchiveAPI) CompletedTransfers(context.Context) (*archive.TransferListing, error) {
	f.calls = append(f.calls, "completed")
	return &archive.TransferListing{Results: []archive.TransferSummary{}}, nil
}

func (f *fakeArchiveAPI) TransferStatus(_ context.Context, id string) (*archive.TransferStatus, error) {
	f.calls = append(f.calls, "status "+id)
	if id == "missing" {
		return nil, archive.ErrRemoteStatusFailure
	}
	return &archive.TransferStatus{UUID: id, Status: archive.RemotePreserved}, nil
}

func (f *fakeArchiveAPI) CancelTransfer(_ context.Context, id string) (*archive.Ack, error) {
	f.calls = append(f.calls, "cancel "+id)
	return &archive.Ack{Message: "removed"}, nil
}

func (f *fakeArchiveAPI) ProcessIngest(_ context.Context, sipID, processingConfig string) (*archive.Ack, error) {
	f.calls = append(f.calls, "process "+sipID+" "+processingConfig)
	return &archive.Ack{UUID: sipID}, nil
}

func run(t *testing.T, fake *fakeArchiveAPI, args ...string) (string, error) {
	t.Helper()
	var gotDir string
	cmd := newRootCommand(func(dir string) (archiveAPI, error) {
		gotDir = dir
		return fake, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	if err == nil && gotDir == "" {
		t.Errorf("client built without a config dir")
	}
	return out.String(), err
}

func TestTransfersUnapproved(t *testing.T) {
	fake := &fakeArchiveAPI{}
	out, err := run(t, fake, "transfers", "unapproved")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var listing archive.TransferListing
	if err := json.Unmarshal([]byte(out), &listing); err != nil {
		t.Fatalf("output is not json: %q", out)
	}
	if !listing.Contains("x") {
		t.Errorf("listing = %+v", listing)
	}
}

func TestTransferStatusAndCancel(t *testing.T) {
	fake := &fakeArchiveAPI{}
	out, err := run(t, fake, "transfer", "status", "abc-123")
	if err != nil || !strings.Contains(out, `"PRESERVADO"`) {
		t.Fatalf("status: out = %q err = %v", out, err)
	}
	if _, err := run(t, fake, "-c", "/etc/preservation", "transfer", "cancel", "abc-123"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	want := []string{"status abc-123", "cancel abc-123"}
	if strings.Join(fake.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", fake.calls, want)
	}
}

func TestTransferStatus_Errors(t *testing.T) {
	fake := &fakeArchiveAPI{}
	if _, err := run(t, fake, "transfer", "status"); err == nil {
		t.Error("missing id accepted")
	}
	if _, err := run(t, fake, "transfer", "status", "missing"); !errors.Is(err, archive.ErrRemoteStatusFailure) {
		t.Errorf("err = %v", err)
	}
}

func TestIngestProcess(t *testing.T) {
	fake := &fakeArchiveAPI{}
	if _, err := run(t, fake, "ingest", "process", "sip-9", "--processing-config", "automated"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(fake.calls) != 1 || fake.calls[0] != "process sip-9 automated" {
		t.Errorf("calls = %v", fake.calls)
	}
}
