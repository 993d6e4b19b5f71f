package hashutil

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeInput struct {
	name, sha string
	size      int64
}

func (f fakeInput) FingerprintName() string   { return f.name }
func (f fakeInput) FingerprintSHA256() string { return f.sha }
func (f fakeInput) FingerprintSize() int64    { return f.size }

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	digest, size, err := HashFile(path)
	if err != nil {
		t.Fatalf("hash file: %v", err)
	}
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if digest != want {
		t.Fatalf("digest = %s want %s", digest, want)
	}
	if size != 5 {
		t.Fatalf("size = %d want 5", size)
	}
	if len(digest) != 64 {
		t.Fatalf("digest length = %d want 64", len(digest))
	}
}

func TestFingerprint_DeterministicOverNameSortedInputs(t *testing.T) {
	a := []fakeInput{
		{name: "b", sha: "bbb", size: 2},
		{name: "a", sha: "aaa", size: 1},
	}
	b := []fakeInput{
		{name: "a", sha: "aaa", size: 1},
		{name: "b", sha: "bbb", size: 2},
	}
	fa := Fingerprint(a)
	fb := Fingerprint(b)
	if fa != fb {
		t.Fatalf("fingerprint not order-independent: %s != %s", fa, fb)
	}
	if len(fa) != 64 {
		t.Fatalf("fingerprint length = %d want 64", len(fa))
	}

	c := []fakeInput{{name: "a", sha: "aaa", size: 1}}
	if Fingerprint(c) == fa {
		t.Fatalf("fingerprint should differ for a different input set")
	}
}
