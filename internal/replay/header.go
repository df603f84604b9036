package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HeaderSchemaVersion tracks the schema version for demo header documents.
const HeaderSchemaVersion = 2

// Header describes the match a demo bundle was recorded from.
type Header struct {
	SchemaVersion int    `json:"schema_version"`
	MatchID       string `json:"match_id"`
	MapSeed       string `json:"map_seed,omitempty"`
	Mode          string `json:"mode,omitempty"`
	TickRate      int    `json:"tick_rate"`
	FilePointer   string `json:"file_pointer"`
}

// Validate ensures the header contains enough information for the demo player.
func (h Header) Validate() error {
	var problems []string
	if h.SchemaVersion <= 0 {
		problems = append(problems, "schema_version must be positive")
	}
	if h.TickRate <= 0 {
		problems = append(problems, "tick_rate must be positive")
	}
	//1.- The player locates the manifest through the pointer.
	if strings.TrimSpace(h.FilePointer) == "" {
		problems = append(problems, "file_pointer must not be empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid demo header: %s", strings.Join(problems, "; "))
	}
	return nil
}

// WriteHeader persists the supplied header to path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and validates a demo header from disk.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, fmt.Errorf("decode demo header: %w", err)
	}
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}
