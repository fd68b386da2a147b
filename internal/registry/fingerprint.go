package registry

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"io"
	"os"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// Fingerprint is the MD5 of the compact summary JSON.
func (r *Registry) Fingerprint() string {
	sum := md5.Sum([]byte(r.SummaryJSON())) //nolint:gosec // fingerprint only
	return hex.EncodeToString(sum[:])
}

// FileFingerprint returns the MD5 of a file's contents.
func FileFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryFileSystem, "failed to open fingerprint file").
			WithContext("path", path).
			Build()
	}
	defer f.Close()
	h := md5.New() //nolint:gosec // fingerprint only
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.WrapError(err, errors.CategoryFileSystem, "failed to hash fingerprint file").
			WithContext("path", path).
			Build()
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
