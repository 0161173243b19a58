// Package stream builds the upload source for a finished backup archive,
// optionally encrypting it on the fly.
package stream

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/Portabase/agent/internal/crypto"
)

// Sidecar describes the cipher parameters of an encrypted upload.
// Storage providers persist it next to the artifact so a restore can
// recognize the format without downloading the payload first.
type Sidecar struct {
	Version   int    `toml:"version"`
	Cipher    string `toml:"cipher"`
	ChunkSize int    `toml:"chunk_size"`
}

// TOML renders the sidecar in its on-disk form
func (s *Sidecar) TOML() ([]byte, error) {
	data, err := toml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sidecar: %w", err)
	}
	return data, nil
}

// Source is a ready-to-upload byte stream
type Source struct {
	Reader    io.ReadCloser
	Size      int64 // -1 when the final size is unknown
	Encrypted bool
	Sidecar   *Sidecar // set only for encrypted sources
}

// Close releases the underlying reader
func (s *Source) Close() error {
	return s.Reader.Close()
}

// Build opens the archive at path as an upload source. When encrypt is
// set, the stream carries the framed ciphertext format and the size is
// unknown until the upload finishes.
func Build(path string, encrypt bool, masterKeyB64 string) (*Source, error) {
	if !encrypt {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		return &Source{Reader: file, Size: info.Size()}, nil
	}

	key, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}

	reader, err := crypto.EncryptStream(path, key)
	if err != nil {
		return nil, err
	}

	return &Source{
		Reader:    reader,
		Size:      -1,
		Encrypted: true,
		Sidecar: &Sidecar{
			Version:   crypto.FormatVersion,
			Cipher:    crypto.CipherName,
			ChunkSize: crypto.ChunkSize,
		},
	}, nil
}
