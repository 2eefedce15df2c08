package model

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
)

// IDLength is the number of hex characters kept from the URL digest.
const IDLength = 16

// Row is a single spreadsheet line keyed by column header.
type Row map[string]string

// ImageTask describes one image to materialize.
//
// ID is derived from the source URL only, so the output filename stays the
// same when the target dimensions change and the file is overwritten in place.
type ImageTask struct {
	SourceURL  string `json:"src"`
	ID         string `json:"id"`
	OutputPath string `json:"file"`
}

// HashID returns the first 16 hex characters of the SHA-1 digest of src.
func HashID(src string) string {
	sum := sha1.Sum([]byte(src))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// FileName returns the output file name for an id.
func FileName(id string) string {
	return id + ".jpg"
}

// NewTask builds the task for src with its output placed under dir.
func NewTask(src, dir string) ImageTask {
	id := HashID(src)

	return ImageTask{
		SourceURL:  src,
		ID:         id,
		OutputPath: filepath.Join(dir, FileName(id)),
	}
}

// IsID reports whether s has the shape of an id produced by HashID.
func IsID(s string) bool {
	if len(s) != IDLength {
		return false
	}

	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}
