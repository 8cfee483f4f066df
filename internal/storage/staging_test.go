package storage

import (
	"strings"
	"testing"
)

func TestNewStagingKey(t *testing.T) {
	key := NewStagingKey("user-1", `C:\scans\Contrato Final.pdf`)

	if !strings.HasPrefix(key, "transfers/user-1/") {
		t.Errorf("key = %q, want transfers/user-1/ prefix", key)
	}
	if !strings.HasSuffix(key, "/Contrato_Final.pdf") {
		t.Errorf("key = %q, want sanitized file name suffix", key)
	}
	if strings.Count(key, "/") != 3 {
		t.Errorf("key = %q, want four segments", key)
	}
	if other := NewStagingKey("user-1", "Contrato Final.pdf"); other == key {
		t.Errorf("keys not unique: %q", key)
	}
}

func TestNewStagingKey_HostileName(t *testing.T) {
	key := NewStagingKey("../../etc", "../..")
	if strings.Contains(key, "..") {
		t.Errorf("key = %q contains a parent reference", key)
	}
	if !strings.HasSuffix(key, "/upload") {
		t.Errorf("key = %q, want fallback file name", key)
	}
}

func TestTransferPathRoundTrip(t *testing.T) {
	tests := []struct {
		location string
		key      string
		want     string
	}{
		{"", "transfers/u/1/a.pdf", "transfers/u/1/a.pdf"},
		{"3f1c-loc", "transfers/u/1/a.pdf", "3f1c-loc:transfers/u/1/a.pdf"},
	}
	for _, tt := range tests {
		got := TransferPath(tt.location, tt.key)
		if got != tt.want {
			t.Errorf("TransferPath(%q, %q) = %q, want %q", tt.location, tt.key, got, tt.want)
		}
		key, ok := StagedKey(tt.location, got)
		if !ok || key != tt.key {
			t.Errorf("StagedKey(%q, %q) = %q, %v", tt.location, got, key, ok)
		}
	}
}

func TestStagedKey_Rejects(t *testing.T) {
	for _, p := range []string{
		"/home/archivematica/docs/a.pdf",
		"other-loc:transfers/u/1/a.pdf",
		"loc:transfers/../secrets",
	} {
		if key, ok := StagedKey("loc", p); ok {
			t.Errorf("StagedKey(loc, %q) = %q, want rejection", p, key)
		}
	}
}

func TestOwnsStagedKey(t *testing.T) {
	tests := []struct {
		key    string
		userID string
		want   bool
	}{
		{NewStagingKey("user-1", "a.pdf"), "user-1", true},
		{NewStagingKey("user 1", "a.pdf"), "user 1", true},
		{"transfers/user-1/k/a.pdf", "user-2", false},
		{"transfers/user-10/k/a.pdf", "user-1", false},
		{"transfers/user-1", "user-1", false},
		{"transfers//k/a.pdf", "", false},
		{"transfers/k/a.pdf", "..", false},
	}
	for _, tt := range tests {
		if got := OwnsStagedKey(tt.key, tt.userID); got != tt.want {
			t.Errorf("OwnsStagedKey(%q, %q) = %v, want %v", tt.key, tt.userID, got, tt.want)
		}
	}
}
