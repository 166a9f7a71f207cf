package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/bulletin"
	apperrors "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/errors"
)

func sampleEntries() []bulletin.Entry {
	return []bulletin.Entry{
		{
			ID: "kouhou-2024-05-0", Municipality: "西町", Date: "2024.05",
			IssueTitle: "広報にしまち 5月号", ArticleTitle: "空き家バンクのご案内",
			Category: "住宅", Summary: "空家の活用 & 相談会", Tags: []string{"空家", "相談会"},
			Source: "csv/kouhou-2024-05.csv", Row: 1,
		},
		{
			ID: "kouhou-2024-05-1", Municipality: "西町", Date: "2024.05",
			ArticleTitle: "お知らせ", Source: "csv/kouhou-2024-05.csv", Row: 2,
		},
	}
}

func TestWriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docs", "index.json")

	sum, err := Write(path, sampleEntries())
	require.NoError(t, err)
	assert.Len(t, sum, 8)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a successful write")

	ix, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, sum, ix.Checksum)
	assert.Equal(t, 2, ix.Len())
	assert.Equal(t, []string{}, ix.Entries[1].Tags)
	assert.Equal(t, "空き家バンクのご案内", ix.Entries[0].ArticleTitle)
	assert.True(t, filepath.IsAbs(ix.BaseDir))
}

func TestEncode_Format(t *testing.T) {
	data, err := Encode(sampleEntries())
	require.NoError(t, err)
	s := string(data)
	assert.True(t, strings.HasPrefix(s, "[\n  {\n    \"id\": \"kouhou-2024-05-0\""))
	assert.Contains(t, s, `"summary": "空家の活用 & 相談会"`)
	assert.Contains(t, s, `"tags": []`)
	assert.Contains(t, s, `"issue_title": ""`)
	assert.True(t, strings.HasSuffix(s, "]\n"))
}

func TestEncode_Empty(t *testing.T) {
	data, err := Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestWrite_Deterministic(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	_, err := Write(a, sampleEntries())
	require.NoError(t, err)
	_, err = Write(b, sampleEntries())
	require.NoError(t, err)

	da, _ := os.ReadFile(a)
	db, _ := os.ReadFile(b)
	assert.Equal(t, da, db)
}

func TestWrite_ReplacesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	_, err := Write(path, sampleEntries())
	require.NoError(t, err)
	_, err = Write(path, sampleEntries()[:1])
	require.NoError(t, err)

	ix, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Len())
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrIndexUnavailable))
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":`), 0644))
	_, err := Load(path)
	assert.True(t, errors.Is(err, apperrors.ErrIndexUnavailable))
}
