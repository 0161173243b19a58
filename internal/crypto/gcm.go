// Package crypto implements the framed AES-256-GCM artifact format.
//
// An encrypted artifact starts with a single JSON header line describing
// the cipher parameters, followed by length-prefixed ciphertext frames.
// Each frame seals one plaintext chunk under a nonce derived from the
// header's base nonce and the frame index, so every chunk is
// authenticated independently and nonces never repeat within a file.
package crypto

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

const (
	// AES-256 requires 32-byte keys
	KeySize = 32

	// GCM standard nonce size
	NonceSize = 12

	// Random per-file prefix of every nonce
	BaseNonceSize = 8

	// FormatVersion is written into every header
	FormatVersion = 1

	// CipherName identifies the only supported cipher
	CipherName = "AES-256-GCM"

	// ChunkSize is the plaintext bytes sealed per frame
	ChunkSize = 16 * 1024 * 1024
)

// Header is the JSON line that opens every encrypted artifact.
// BaseNonce serializes as an array of byte values.
type Header struct {
	Version   int    `json:"version"`
	Cipher    string `json:"cipher"`
	ChunkSize int    `json:"chunk_size"`
	BaseNonce []byte `json:"-"`
}

type headerWire struct {
	Version   int    `json:"version"`
	Cipher    string `json:"cipher"`
	ChunkSize int    `json:"chunk_size"`
	BaseNonce []int  `json:"base_nonce"`
}

// MarshalJSON encodes the base nonce as a plain number array
func (h Header) MarshalJSON() ([]byte, error) {
	wire := headerWire{
		Version:   h.Version,
		Cipher:    h.Cipher,
		ChunkSize: h.ChunkSize,
		BaseNonce: make([]int, len(h.BaseNonce)),
	}
	for i, b := range h.BaseNonce {
		wire.BaseNonce[i] = int(b)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the number-array base nonce back into bytes
func (h *Header) UnmarshalJSON(data []byte) error {
	var wire headerWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	h.Version = wire.Version
	h.Cipher = wire.Cipher
	h.ChunkSize = wire.ChunkSize
	h.BaseNonce = make([]byte, len(wire.BaseNonce))
	for i, v := range wire.BaseNonce {
		if v < 0 || v > 255 {
			return fmt.Errorf("base_nonce value out of range: %d", v)
		}
		h.BaseNonce[i] = byte(v)
	}
	return nil
}

// ValidateKey checks if a key is the correct length
func ValidateKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("invalid key length: expected %d bytes, got %d bytes", KeySize, len(key))
	}
	return nil
}

// chunkNonce derives the 12-byte nonce for one frame
func chunkNonce(base []byte, index uint32) []byte {
	nonce := make([]byte, NonceSize)
	copy(nonce, base)
	binary.BigEndian.PutUint32(nonce[BaseNonceSize:], index)
	return nonce
}

// EncryptStream opens the given file and returns a reader producing the
// encrypted artifact. Encryption runs in a goroutine feeding a pipe, so
// the artifact never materializes on disk.
func EncryptStream(path string, key []byte) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	baseNonce := make([]byte, BaseNonceSize)
	if _, err := io.ReadFull(rand.Reader, baseNonce); err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to generate base nonce: %w", err)
	}

	header := Header{
		Version:   FormatVersion,
		Cipher:    CipherName,
		ChunkSize: ChunkSize,
		BaseNonce: baseNonce,
	}
	headerLine, err := json.Marshal(header)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}

	pr, pw := io.Pipe()

	go func() {
		defer src.Close()
		defer pw.Close()

		if _, err := pw.Write(append(headerLine, '\n')); err != nil {
			pw.CloseWithError(fmt.Errorf("failed to write header: %w", err))
			return
		}

		buf := make([]byte, ChunkSize)
		lengthBuf := make([]byte, 4)
		var index uint32

		for {
			n, err := io.ReadFull(src, buf)
			if n > 0 {
				ciphertext := gcm.Seal(nil, chunkNonce(baseNonce, index), buf[:n], nil)

				binary.BigEndian.PutUint32(lengthBuf, uint32(len(ciphertext)))
				if _, err := pw.Write(lengthBuf); err != nil {
					pw.CloseWithError(fmt.Errorf("failed to write frame length: %w", err))
					return
				}
				if _, err := pw.Write(ciphertext); err != nil {
					pw.CloseWithError(fmt.Errorf("failed to write ciphertext: %w", err))
					return
				}
				index++
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			if err != nil {
				pw.CloseWithError(fmt.Errorf("read error: %w", err))
				return
			}
		}
	}()

	return pr, nil
}

// Decrypt reads an encrypted artifact and writes the plaintext to w
func Decrypt(r io.Reader, w io.Writer, key []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	br := bufio.NewReaderSize(r, 64*1024)

	headerLine, err := br.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(headerLine), &header); err != nil {
		return fmt.Errorf("failed to decode header: %w", err)
	}
	if header.Version != FormatVersion {
		return fmt.Errorf("unsupported format version: %d", header.Version)
	}
	if header.Cipher != CipherName {
		return fmt.Errorf("unsupported cipher: %s", header.Cipher)
	}
	if len(header.BaseNonce) != BaseNonceSize {
		return fmt.Errorf("invalid base nonce length: %d", len(header.BaseNonce))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	lengthBuf := make([]byte, 4)
	var index uint32

	for {
		if _, err := io.ReadFull(br, lengthBuf); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read frame length: %w", err)
		}

		frameLen := binary.BigEndian.Uint32(lengthBuf)
		if frameLen == 0 || frameLen > ChunkSize+uint32(gcm.Overhead()) {
			return fmt.Errorf("invalid frame length: %d", frameLen)
		}

		ciphertext := make([]byte, frameLen)
		if _, err := io.ReadFull(br, ciphertext); err != nil {
			return fmt.Errorf("failed to read ciphertext: %w", err)
		}

		plaintext, err := gcm.Open(nil, chunkNonce(header.BaseNonce, index), ciphertext, nil)
		if err != nil {
			return fmt.Errorf("decryption failed (wrong key?): %w", err)
		}

		if _, err := w.Write(plaintext); err != nil {
			return fmt.Errorf("failed to write plaintext: %w", err)
		}
		index++
	}
}

// DecryptFile decrypts an artifact on disk into outputPath
func DecryptFile(inputPath, outputPath string, key []byte) error {
	inFile, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer inFile.Close()

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer outFile.Close()

	if err := Decrypt(inFile, outFile, key); err != nil {
		return err
	}
	return outFile.Close()
}
