// Package normalize guarantees bulletin CSV files are UTF-8 before they are
// parsed. Encoding is detected from a bounded prefix of the file; files in
// any other encoding are decoded and rewritten in place as UTF-8 with LF line
// endings.
package normalize

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	apperrors "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/errors"
)

// sniffLen is how many leading bytes are inspected for detection.
const sniffLen = 4000

const (
	EncodingUTF8    = "utf-8"
	EncodingUTF8BOM = "utf-8-sig"
)

// Detection is the outcome of sniffing a file. Err is set when detection
// itself failed, in which case Encoding falls back to UTF-8.
type Detection struct {
	Encoding   string
	Confidence int
	bomLen     int
	Err        error
}

// IsUTF8 reports whether an encoding name denotes UTF-8 or a strict subset
// of it, meaning the file needs no rewrite.
func IsUTF8(name string) bool {
	n := strings.ToLower(name)
	n = strings.NewReplacer("-", "", "_", "").Replace(n)
	switch n {
	case "utf8", "utf8sig", "ascii", "usascii":
		return true
	}
	return false
}

// Detect sniffs the encoding of the file at path. Only an unreadable file is
// an error; detection problems are reported in Detection.Err.
func Detect(path string) (Detection, error) {
	f, err := os.Open(path)
	if err != nil {
		return Detection{}, fmt.Errorf("%w: %s: %v", apperrors.ErrSourceUnreadable, path, err)
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Detection{}, fmt.Errorf("%w: %s: %v", apperrors.ErrSourceUnreadable, path, err)
	}
	return DetectBytes(buf[:n], n == sniffLen), nil
}

// DetectBytes detects the encoding of prefix. truncated tells whether prefix
// was cut from a longer file, so a split multi-byte sequence at the end is
// not held against UTF-8.
func DetectBytes(prefix []byte, truncated bool) Detection {
	switch {
	case bytes.HasPrefix(prefix, []byte{0xEF, 0xBB, 0xBF}):
		return Detection{Encoding: EncodingUTF8BOM, Confidence: 100, bomLen: 3}
	case bytes.HasPrefix(prefix, []byte{0xFF, 0xFE}):
		return Detection{Encoding: "utf-16le", Confidence: 100, bomLen: 2}
	case bytes.HasPrefix(prefix, []byte{0xFE, 0xFF}):
		return Detection{Encoding: "utf-16be", Confidence: 100, bomLen: 2}
	}
	if validUTF8Prefix(prefix, truncated) {
		return Detection{Encoding: EncodingUTF8, Confidence: 100}
	}

	res, err := chardet.NewTextDetector().DetectBest(prefix)
	if err != nil || res == nil || res.Charset == "" {
		if err == nil {
			err = fmt.Errorf("no charset candidate")
		}
		return Detection{Encoding: EncodingUTF8, Err: err}
	}
	return Detection{Encoding: res.Charset, Confidence: res.Confidence}
}

func validUTF8Prefix(b []byte, truncated bool) bool {
	if utf8.Valid(b) {
		return true
	}
	if !truncated {
		return false
	}
	for k := 1; k < utf8.UTFMax && k < len(b); k++ {
		tail := b[len(b)-k:]
		if utf8.Valid(b[:len(b)-k]) && utf8.RuneStart(tail[0]) && !utf8.FullRune(tail) {
			return true
		}
	}
	return false
}

// labelFor maps chardet's charset names onto WHATWG labels understood by
// charset.Lookup.
func labelFor(name string) string {
	switch strings.ToUpper(name) {
	case "GB-18030":
		return "gb18030"
	case "ISO-8859-8-I":
		return "iso-8859-8-i"
	}
	return strings.ToLower(name)
}

// EnsureUTF8 rewrites the file at path as UTF-8 unless it already is. It
// reports whether the file changed. Detection failures and encodings with no
// known decoder leave the file untouched; only I/O failures are returned.
func EnsureUTF8(path string) (bool, error) {
	log := slog.Default().With("component", "encoding-normalizer", "file", path)

	det, err := Detect(path)
	if err != nil {
		return false, err
	}
	if det.Err != nil {
		log.Warn("encoding detection failed, assuming utf-8", "error", det.Err)
		return false, nil
	}
	if IsUTF8(det.Encoding) {
		return false, nil
	}

	enc, canonical := charset.Lookup(labelFor(det.Encoding))
	if enc == nil {
		log.Warn("no decoder for detected encoding, leaving file as is", "encoding", det.Encoding)
		return false, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", apperrors.ErrSourceUnreadable, path, err)
	}
	if det.bomLen > 0 && len(raw) >= det.bomLen {
		raw = raw[det.bomLen:]
	}

	dropInvalid := runes.Remove(runes.Predicate(func(r rune) bool { return r == utf8.RuneError }))
	decoded, _, err := transform.Bytes(transform.Chain(enc.NewDecoder(), dropInvalid), raw)
	if err != nil {
		return false, fmt.Errorf("decoding %s as %s: %w", path, canonical, err)
	}
	decoded = normalizeNewlines(decoded)

	if err := writeAtomic(path, decoded); err != nil {
		return false, err
	}
	log.Info("converted to utf-8", "from", canonical, "confidence", det.Confidence)
	return true, nil
}

func normalizeNewlines(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
}

func writeAtomic(path string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// EnsureDir runs EnsureUTF8 over every *.csv in dir, in lexicographic order,
// and returns the files that were rewritten.
func EnsureDir(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	sort.Strings(files)
	var changed []string
	for _, f := range files {
		ok, err := EnsureUTF8(f)
		if err != nil {
			return changed, err
		}
		if ok {
			changed = append(changed, f)
		}
	}
	return changed, nil
}
