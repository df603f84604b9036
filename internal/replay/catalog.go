package replay

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CatalogEntry is one demo header found on disk.
type CatalogEntry struct {
	HeaderPath string `json:"header_path"`
	BundlePath string `json:"bundle_path"`
	Header     Header `json:"header"`
}

// List walks root and returns every demo header it finds, ordered by match
// id then bundle path.
func List(root string) ([]CatalogEntry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []CatalogEntry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != headerName {
			return nil
		}
		header, err := ReadHeader(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		entries = append(entries, CatalogEntry{HeaderPath: path, BundlePath: filepath.Dir(path), Header: header})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Header.MatchID == entries[j].Header.MatchID {
			return entries[i].BundlePath < entries[j].BundlePath
		}
		return entries[i].Header.MatchID < entries[j].Header.MatchID
	})
	return entries, nil
}

// MarshalCatalog renders entries as indented JSON for CLI output.
func MarshalCatalog(entries []CatalogEntry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
