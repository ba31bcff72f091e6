package main

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func withTTY(t *testing.T, tty bool) {
	t.Helper()
	prev := stdinIsTTY
	stdinIsTTY = func() bool { return tty }
	t.Cleanup(func() { stdinIsTTY = prev })
}

func TestDiscoverModels(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b.mcf", "A.MCF", "notes.txt")
	if err := os.Mkdir(filepath.Join(dir, "dir.mcf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := discoverModels(dir)
	if err != nil {
		t.Fatalf("discoverModels: %v", err)
	}
	want := []string{filepath.Join(dir, "A.MCF"), filepath.Join(dir, "b.mcf")}
	if !slices.Equal(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}

	if _, err := discoverModels(filepath.Join(dir, "b.mcf")); err == nil {
		t.Fatalf("expected error for a file path")
	}
}

func TestResolveModelPath(t *testing.T) {
	t.Run("model flag wins", func(t *testing.T) {
		t.Setenv(envModelsDir, t.TempDir())
		got, err := resolveModelPath(" /tmp/x/../model.mcf ", "", strings.NewReader(""), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath: %v", err)
		}
		if got != "/tmp/model.mcf" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		if _, err := resolveModelPath("", "", strings.NewReader(""), io.Discard); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("single model from env", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "only.mcf")
		t.Setenv(envModelsDir, dir)
		withTTY(t, false)

		got, err := resolveModelPath("", "", strings.NewReader(""), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath: %v", err)
		}
		if got != filepath.Join(dir, "only.mcf") {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("models path overrides env", func(t *testing.T) {
		envDir, flagDir := t.TempDir(), t.TempDir()
		touch(t, envDir, "env.mcf")
		touch(t, flagDir, "flag.mcf")
		t.Setenv(envModelsDir, envDir)

		got, err := resolveModelPath("", flagDir, strings.NewReader(""), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath: %v", err)
		}
		if got != filepath.Join(flagDir, "flag.mcf") {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		if _, err := resolveModelPath("", t.TempDir(), strings.NewReader(""), io.Discard); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("several models need a terminal", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "a.mcf", "b.mcf")
		withTTY(t, false)

		if _, err := resolveModelPath("", dir, strings.NewReader("1\n"), io.Discard); err == nil {
			t.Fatalf("expected error without a terminal")
		}
	})

	t.Run("interactive choice", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "b.mcf", "a.mcf")
		withTTY(t, true)

		got, err := resolveModelPath("", dir, strings.NewReader("7\n\n2\n"), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath: %v", err)
		}
		if got != filepath.Join(dir, "b.mcf") {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("interactive eof", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "a.mcf", "b.mcf")
		withTTY(t, true)

		if _, err := resolveModelPath("", dir, strings.NewReader("nope"), io.Discard); err == nil {
			t.Fatalf("expected error on invalid final line")
		}
	})
}
