// Package hashutil computes the content hashes and input-set fingerprint
// that back every content-addressed artifact in a run.
package hashutil

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"sort"
)

// Named is anything with a name, sha256 digest, and size — satisfied by
// manifest.RunInput without importing it, so both packages stay decoupled.
type Named interface {
	FingerprintName() string
	FingerprintSHA256() string
	FingerprintSize() int64
}

// HashFile reads path in full and returns its lowercase hex SHA-256 digest
// and byte size. Fails if the file is unreadable.
func HashFile(path string) (digest string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), n, nil
}

// Fingerprint computes the 64-hex digest of the name-sorted input set, per
// spec.md §3: sha256(Σ (name ":" sha256 ":" size "\n")).
func Fingerprint[T Named](inputs []T) string {
	sorted := make([]T, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].FingerprintName() < sorted[j].FingerprintName()
	})

	h := sha256.New()
	for _, in := range sorted {
		fmt.Fprintf(h, "%s:%s:%d\n", in.FingerprintName(), in.FingerprintSHA256(), in.FingerprintSize())
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
