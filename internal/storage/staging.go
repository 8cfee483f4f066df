package storage

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// StagingPrefix is the key prefix of every transfer source uploaded through
// the service.
const StagingPrefix = "transfers/"

// NewStagingKey returns a fresh object key for a user's upload:
// transfers/{userID}/{random}/{fileName}.
func NewStagingKey(userID, fileName string) string {
	return StagingPrefix + sanitizeSegment(userID) + "/" + uuid.NewString() + "/" + sanitizeFileName(fileName)
}

// TransferPath turns an object key into the source path handed to the archive.
// With a location set the result is "location:key", the form the archive uses
// to address files inside a transfer source location.
func TransferPath(location, objectKey string) string {
	if location == "" {
		return objectKey
	}
	return location + ":" + objectKey
}

// StagedKey recovers the object key from a document file path, reporting false
// for paths that do not point into the staging area.
func StagedKey(location, filePath string) (string, bool) {
	key := filePath
	if location != "" {
		var ok bool
		key, ok = strings.CutPrefix(filePath, location+":")
		if !ok {
			return "", false
		}
	}
	if !strings.HasPrefix(key, StagingPrefix) || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

// OwnsStagedKey reports whether key sits under userID's staging folder.
func OwnsStagedKey(key, userID string) bool {
	owner := sanitizeSegment(userID)
	if owner == "" {
		return false
	}
	return strings.HasPrefix(key, StagingPrefix+owner+"/")
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = sanitizeSegment(name)
	if name == "" || name == "." {
		return "upload"
	}
	return name
}

func sanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), ".")
}
