package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCompress(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		dir := t.TempDir()
		payload := bytes.Repeat([]byte("backup data\n"), 1000)

		src := filepath.Join(dir, "dump.sql")
		if err := os.WriteFile(src, payload, 0o600); err != nil {
			t.Fatal(err)
		}

		archivePath, err := Compress(src)
		if err != nil {
			t.Fatalf("Compress failed: %v", err)
		}
		if !strings.HasSuffix(archivePath, "dump.sql.tar.gz") {
			t.Errorf("unexpected archive name: %s", archivePath)
		}

		outDir := t.TempDir()
		files, err := Decompress(archivePath, outDir)
		if err != nil {
			t.Fatalf("Decompress failed: %v", err)
		}
		if len(files) != 1 {
			t.Fatalf("expected 1 extracted file, got %d", len(files))
		}
		if filepath.Base(files[0]) != "dump.sql" {
			t.Errorf("entry should keep the base name, got %s", files[0])
		}

		extracted, err := os.ReadFile(files[0])
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(extracted, payload) {
			t.Error("extracted content differs from original")
		}
	})

	t.Run("skips existing archives", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "already.tar.gz")
		if err := os.WriteFile(src, []byte("whatever"), 0o600); err != nil {
			t.Fatal(err)
		}

		got, err := Compress(src)
		if err != nil {
			t.Fatalf("Compress failed: %v", err)
		}
		if got != src {
			t.Errorf("archive should pass through untouched, got %s", got)
		}
	})

	t.Run("missing input", func(t *testing.T) {
		if _, err := Compress(filepath.Join(t.TempDir(), "absent.sql")); err == nil {
			t.Error("expected error for missing input")
		}
	})
}

func TestDecompress(t *testing.T) {
	t.Run("rejects non-archives", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "junk.tar.gz")
		if err := os.WriteFile(src, []byte("not gzip at all"), 0o600); err != nil {
			t.Fatal(err)
		}

		if _, err := Decompress(src, t.TempDir()); err == nil {
			t.Error("expected error for invalid gzip stream")
		}
	})

	t.Run("strips path components", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "dump.sql")
		if err := os.WriteFile(src, []byte("data"), 0o600); err != nil {
			t.Fatal(err)
		}
		archivePath, err := Compress(src)
		if err != nil {
			t.Fatal(err)
		}

		outDir := t.TempDir()
		files, err := Decompress(archivePath, outDir)
		if err != nil {
			t.Fatal(err)
		}
		for _, f := range files {
			if filepath.Dir(f) != outDir {
				t.Errorf("extracted file escaped dest dir: %s", f)
			}
		}
	})
}
