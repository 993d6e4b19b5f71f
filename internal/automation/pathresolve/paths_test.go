package pathresolve

import (
	"path/filepath"
	"testing"
)

func TestResolve_AbsolutePassthrough(t *testing.T) {
	if got := Resolve("/base", "/abs/path"); got != "/abs/path" {
		t.Fatalf("got %q", got)
	}
	if got := Resolve("/base", "rel/path"); got != filepath.Join("/base", "rel/path") {
		t.Fatalf("got %q", got)
	}
}

func TestDeriveAttemptPaths_ZeroPadded(t *testing.T) {
	rp := DeriveRunPaths("/repo", "/repo/cfg", "/repo/cfg/work")
	ap := DeriveAttemptPaths(rp, 7)
	want := filepath.Join(rp.AttemptsRoot, "007")
	if ap.Dir != want {
		t.Fatalf("dir = %q want %q", ap.Dir, want)
	}
}

func TestValidateWorkRootOutsideRepo(t *testing.T) {
	if err := ValidateWorkRootOutsideRepo("/repo", "/repo/work"); err == nil {
		t.Fatalf("expected error for work_root inside repo")
	}
	if err := ValidateWorkRootOutsideRepo("/repo", "/elsewhere/work"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFormatPath_RelativeWhenUnderConfigDir(t *testing.T) {
	got := FormatPath("/repo/cfg", "/repo/cfg/work/logs/build.stdout.log")
	want := filepath.Join("work", "logs", "build.stdout.log")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	got = FormatPath("/repo/cfg", "/other/place.log")
	if got != "/other/place.log" {
		t.Fatalf("got %q", got)
	}
}
