// Package edgekey decodes the agent's identity bundle.
//
// The EDGE_KEY environment variable carries a base64url-encoded JSON object
// with the control-plane URL, the agent id and the master encryption key.
// Without a valid edge key the agent refuses to start.
package edgekey

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// MasterKeySize is the AES-256 key length in bytes
const MasterKeySize = 32

// EdgeKey is the decoded identity bundle. Immutable for process lifetime.
type EdgeKey struct {
	ServerURL    string `json:"serverUrl"`
	AgentID      string `json:"agentId"`
	MasterKeyB64 string `json:"masterKeyB64"`
}

// Decode parses a base64url-encoded edge key. Missing padding is tolerated.
func Decode(raw string) (EdgeKey, error) {
	var key EdgeKey

	if raw == "" {
		return key, fmt.Errorf("EDGE_KEY missing")
	}

	padded := raw
	if n := len(padded) % 4; n != 0 {
		padded += strings.Repeat("=", 4-n)
	}

	decoded, err := base64.URLEncoding.DecodeString(padded)
	if err != nil {
		return key, fmt.Errorf("edge key base64 decoding error: %w", err)
	}

	if err := json.Unmarshal(decoded, &key); err != nil {
		return key, fmt.Errorf("edge key JSON parsing error: %w", err)
	}

	if key.ServerURL == "" || key.AgentID == "" || key.MasterKeyB64 == "" {
		return EdgeKey{}, fmt.Errorf("edge key invalid: missing required fields")
	}

	if _, err := key.MasterKey(); err != nil {
		return EdgeKey{}, err
	}

	return key, nil
}

// MasterKey returns the raw 32-byte AES key
func (k EdgeKey) MasterKey() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(k.MasterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("master key base64 decoding error: %w", err)
	}
	if len(raw) != MasterKeySize {
		return nil, fmt.Errorf("invalid master key length: expected %d bytes, got %d bytes", MasterKeySize, len(raw))
	}
	return raw, nil
}

// Encode builds the transport form of an edge key (used by tests and tooling)
func Encode(key EdgeKey) (string, error) {
	data, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("failed to marshal edge key: %w", err)
	}
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "="), nil
}
