// Package snapshot persists the index as a single UTF-8 JSON document: an
// ordered array of bulletin entries. Writes go to a temporary file that is
// synced and renamed into place, so readers only ever see a complete index.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
)

// Encode serialises entries exactly as Write stores them: two-space indent,
// no HTML escaping, trailing newline, tags always an array.
func Encode(entries []bulletin.Entry) ([]byte, error) {
	out := make([]bulletin.Entry, len(entries))
	copy(out, entries)
	for i := range out {
		if out[i].Tags == nil {
			out[i].Tags = []string{}
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Checksum is the CRC-32 (IEEE) of the encoded snapshot, as 8 hex digits.
func Checksum(data []byte) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE(data))
}

// Write atomically replaces the snapshot at path and returns its checksum.
// On any failure the previous snapshot is left untouched.
func Write(path string, entries []bulletin.Entry) (string, error) {
	data, err := Encode(entries)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp snapshot file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming snapshot file: %w", err)
	}
	return Checksum(data), nil
}
