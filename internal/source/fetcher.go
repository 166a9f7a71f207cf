package source

import (
	"fmt"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
	apperrors "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/errors"
)

// Fetcher re-reads article bodies from the CSV files an index was built
// from. Entry sources are relative to baseDir, the snapshot's directory.
// Nothing is cached: every call opens the file again.
type Fetcher struct {
	baseDir string
}

func NewFetcher(baseDir string) *Fetcher {
	return &Fetcher{baseDir: baseDir}
}

// Resolve maps an entry's source path to a filesystem path.
func (f *Fetcher) Resolve(src string) string {
	p := filepath.FromSlash(src)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.baseDir, p)
}

// Body returns the article body of 1-based row in src. A missing file or
// row is an error; a missing body column yields "" with no error.
func (f *Fetcher) Body(src string, row int) (string, error) {
	t, err := ReadTable(f.Resolve(src))
	if err != nil {
		return "", err
	}
	if row < 1 || row > t.Len() {
		return "", fmt.Errorf("%w: %s row %d of %d", apperrors.ErrRowNotFound, src, row, t.Len())
	}
	return t.Field(row-1, bulletin.ColumnBody), nil
}
