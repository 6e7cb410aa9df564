package index

import (
	"path/filepath"
	"testing"

	"go-xenocanto-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecordings() []models.Recording {
	return []models.Recording{
		{ID: "1", Genus: "Larus", Species: "fuscus", EnglishName: "Lesser Black-backed Gull", Country: "United Kingdom", Quality: "A", Type: "call"},
		{ID: "2", Genus: "Parus", Species: "major", EnglishName: "Great Tit", Country: "Spain", Quality: "B", Type: "song", Also: models.StringOrStringSlice{"Turdus merula"}},
		{ID: "3", Genus: "Larus", Species: "argentatus", EnglishName: "European Herring Gull", Country: "Netherlands", Quality: "A", Type: "call"},
	}
}

func hitIDs(hits []Hit) []string {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func TestSearch(t *testing.T) {
	idx, err := NewMemIndex()
	require.NoError(t, err)
	defer idx.Close()

	recs := testRecordings()
	items := make([]Item, 0, len(recs))
	for i := range recs {
		items = append(items, ItemFromRecording(&recs[i], "/tmp/"+recs[i].ID+".mp3"))
	}
	require.NoError(t, IndexItems(idx, items))

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "free text", query: "gull", want: []string{"1", "3"}},
		{name: "field query", query: "genus:parus", want: []string{"2"}},
		{name: "keyword quality", query: "quality:A", want: []string{"1", "3"}},
		{name: "also species", query: "also:merula", want: []string{"2"}},
		{name: "no match", query: "penguin", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, total, err := Search(idx, tt.query, 10)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, hitIDs(hits))
			assert.Equal(t, uint64(len(tt.want)), total)
		})
	}

	hits, _, err := Search(idx, "genus:parus", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Great Tit", hits[0].Fields["englishName"])
	assert.Equal(t, "/tmp/2.mp3", hits[0].Fields["filePath"])

	_, _, err = Search(idx, "  ", 10)
	assert.Error(t, err)
}

func TestIndexItemAndDelete(t *testing.T) {
	idx, err := NewMemIndex()
	require.NoError(t, err)
	defer idx.Close()

	rec := testRecordings()[0]
	require.NoError(t, IndexItem(idx, ItemFromRecording(&rec, "a.mp3")))
	assert.Error(t, IndexItem(idx, Item{}), "Items without id are rejected")

	// Re-indexing the same id replaces the document.
	rec.EnglishName = "Renamed Gull"
	require.NoError(t, IndexItem(idx, ItemFromRecording(&rec, "a.mp3")))
	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	require.NoError(t, DeleteItem(idx, "1"))
	count, err = idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestOpenOrCreateIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xenocanto.bleve")

	idx, err := OpenOrCreateIndex(path)
	require.NoError(t, err)
	rec := testRecordings()[1]
	require.NoError(t, IndexItem(idx, ItemFromRecording(&rec, "b.mp3")))
	require.NoError(t, idx.Close())

	idx, err = OpenOrCreateIndex(path)
	require.NoError(t, err)
	defer idx.Close()
	hits, _, err := Search(idx, "tit", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, hitIDs(hits))

	_, err = OpenOrCreateIndex("")
	assert.Error(t, err)
}
