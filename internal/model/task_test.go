package model

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestHashID(t *testing.T) {
	got := HashID("https://example.com/a.png")
	want := "b86dafa63bceefac"

	if got != want {
		t.Fatalf("HashID = %q, want %q", got, want)
	}
	if again := HashID("https://example.com/a.png"); again != got {
		t.Fatalf("HashID not stable: %q vs %q", again, got)
	}
	if !IsID(got) {
		t.Fatalf("IsID(%q) = false", got)
	}
}

func TestNewTask(t *testing.T) {
	task := NewTask("https://example.com/a.png", "out")

	if task.ID != "b86dafa63bceefac" {
		t.Errorf("ID = %q", task.ID)
	}
	if want := filepath.Join("out", "b86dafa63bceefac.jpg"); task.OutputPath != want {
		t.Errorf("OutputPath = %q, want %q", task.OutputPath, want)
	}
}

func TestIsID(t *testing.T) {
	cases := map[string]bool{
		"b86dafa63bceefac":   true,
		"B86DAFA63BCEEFAC":   false,
		"b86dafa63bceefa":    false,
		"../../etc/passwd00": false,
		"zzzzzzzzzzzzzzzz":   false,
	}

	for in, want := range cases {
		if got := IsID(in); got != want {
			t.Errorf("IsID(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOutcomeEntry(t *testing.T) {
	task := NewTask("https://example.com/a.png", "out")

	skip := Outcome{Status: StatusSkipNoSrc}.Entry()
	if skip != (ManifestEntry{Status: "skip-no-src"}) {
		t.Errorf("skip entry = %+v", skip)
	}

	failed := Failed(task, errors.New("Image fetch failed: HTTP 500")).Entry()
	if failed.Status != "error: Image fetch failed: HTTP 500" {
		t.Errorf("error status = %q", failed.Status)
	}
	if failed.ID != task.ID || failed.Src != task.SourceURL || failed.File != task.OutputPath {
		t.Errorf("error entry = %+v", failed)
	}

	written := Outcome{Task: task, Status: StatusWritten}.Entry()
	if written.Status != "written" {
		t.Errorf("written status = %q", written.Status)
	}
}
