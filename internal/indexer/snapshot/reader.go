package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
	apperrors "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/errors"
)

// Index is a loaded snapshot. It is immutable once returned by Load and may
// be shared by any number of concurrent readers.
type Index struct {
	Entries  []bulletin.Entry
	Checksum string
	// BaseDir is the snapshot's directory; entry sources are relative to it.
	BaseDir  string
	LoadedAt time.Time
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.Entries)
}

// Load reads and decodes the snapshot at path. A missing or undecodable file
// wraps ErrIndexUnavailable.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", apperrors.ErrIndexUnavailable, path, err)
	}
	entries, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrIndexUnavailable, path, err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		abs = filepath.Dir(path)
	}
	return &Index{
		Entries:  entries,
		Checksum: Checksum(data),
		BaseDir:  abs,
		LoadedAt: time.Now(),
	}, nil
}

// Decode parses snapshot bytes. Null tags are normalised to empty lists.
func Decode(data []byte) ([]bulletin.Entry, error) {
	var entries []bulletin.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if entries == nil {
		entries = []bulletin.Entry{}
	}
	for i := range entries {
		if entries[i].Tags == nil {
			entries[i].Tags = []string{}
		}
	}
	return entries, nil
}
