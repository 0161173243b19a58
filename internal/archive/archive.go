// Package archive packs dump files into gzip-compressed tarballs.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Suffix marks files already packed by this package
const Suffix = ".tar.gz"

// Compress packs the given file into <file>.tar.gz next to it and
// returns the archive path. Files that already carry the archive
// suffix are returned untouched.
func Compress(path string) (string, error) {
	if strings.HasSuffix(path, Suffix) {
		return path, nil
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	archivePath := path + Suffix
	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", archivePath, err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return "", fmt.Errorf("failed to build tar header: %w", err)
	}
	header.Name = filepath.Base(path)

	if err := tw.WriteHeader(header); err != nil {
		return "", fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := io.Copy(tw, src); err != nil {
		return "", fmt.Errorf("failed to write archive entry: %w", err)
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize gzip stream: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", archivePath, err)
	}

	return archivePath, nil
}

// Decompress unpacks a tar.gz archive into destDir and returns the
// extracted file paths in archive order. Entry names are sanitized so
// an archive cannot write outside destDir.
func Decompress(path, destDir string) ([]string, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	gz, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	var extracted []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar stream: %w", err)
		}

		name := filepath.Base(filepath.Clean(header.Name))
		if name == "." || name == string(filepath.Separator) {
			continue
		}

		switch header.Typeflag {
		case tar.TypeReg:
			target := filepath.Join(destDir, name)
			if err := extractFile(tr, target, header.FileInfo().Mode()); err != nil {
				return nil, err
			}
			extracted = append(extracted, target)
		default:
			// Directories and special entries are skipped, dumps are flat
		}
	}

	return extracted, nil
}

func extractFile(r io.Reader, target string, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("failed to extract %s: %w", target, err)
	}
	return out.Close()
}
