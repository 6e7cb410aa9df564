package index

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go-xenocanto-download/internal/models"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	log "github.com/sirupsen/logrus"
)

// Item is the searchable document stored for each downloaded recording.
type Item struct {
	ID          string `json:"id"`
	Genus       string `json:"genus"`
	Species     string `json:"species"`
	Subspecies  string `json:"subspecies"`
	EnglishName string `json:"englishName"`
	Group       string `json:"group"`
	Recordist   string `json:"recordist"`
	Country     string `json:"country"`
	Locality    string `json:"locality"`
	SoundType   string `json:"soundType"`
	Quality     string `json:"quality"`
	License     string `json:"license"`
	Date        string `json:"date"`
	Remarks     string `json:"remarks"`
	Also        string `json:"also"`
	FilePath    string `json:"filePath"`
}

// Hit is a single search result.
type Hit struct {
	ID     string
	Score  float64
	Fields map[string]interface{}
}

// ItemFromRecording builds the index document for rec stored at filePath.
func ItemFromRecording(rec *models.Recording, filePath string) Item {
	return Item{
		ID:          rec.ID,
		Genus:       rec.Genus,
		Species:     rec.Species,
		Subspecies:  rec.Subspecies,
		EnglishName: rec.EnglishName,
		Group:       rec.Group,
		Recordist:   rec.Recordist,
		Country:     rec.Country,
		Locality:    rec.Locality,
		SoundType:   rec.Type,
		Quality:     rec.Quality,
		License:     rec.License,
		Date:        rec.Date,
		Remarks:     rec.Remarks,
		Also:        rec.Also.Join("; "),
		FilePath:    filePath,
	}
}

func buildMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = "standard"

	keyword := bleve.NewKeywordFieldMapping()

	doc := bleve.NewDocumentMapping()
	for _, name := range []string{"genus", "species", "subspecies", "englishName", "group",
		"recordist", "country", "locality", "soundType", "remarks", "also"} {
		doc.AddFieldMappingsAt(name, text)
	}
	for _, name := range []string{"id", "quality", "license", "date", "filePath"} {
		doc.AddFieldMappingsAt(name, keyword)
	}

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = "standard"
	return indexMapping
}

// OpenOrCreateIndex opens the index at path, creating it when it does not exist.
func OpenOrCreateIndex(path string) (bleve.Index, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("index path is empty")
	}
	path = filepath.Clean(path)

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		log.Debugf("Creating new search index at %s", path)
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening search index %s: %w", path, err)
	}
	return idx, nil
}

// NewMemIndex returns an in-memory index with the recording mapping.
func NewMemIndex() (bleve.Index, error) {
	return bleve.NewMemOnly(buildMapping())
}

// IndexItem adds or replaces a single document.
func IndexItem(idx bleve.Index, item Item) error {
	if item.ID == "" {
		return fmt.Errorf("cannot index an item without id")
	}
	if err := idx.Index(item.ID, item); err != nil {
		return fmt.Errorf("indexing recording %s: %w", item.ID, err)
	}
	return nil
}

// IndexItems adds or replaces documents in one batch.
func IndexItems(idx bleve.Index, items []Item) error {
	batch := idx.NewBatch()
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if err := batch.Index(item.ID, item); err != nil {
			return fmt.Errorf("batching recording %s: %w", item.ID, err)
		}
	}
	if batch.Size() == 0 {
		return nil
	}
	return idx.Batch(batch)
}

// DeleteItem removes a recording from the index. Unknown ids are not an error.
func DeleteItem(idx bleve.Index, id string) error {
	return idx.Delete(id)
}

// Search runs a query-string search (e.g. "gull country:spain quality:A")
// and returns at most limit hits with their stored fields.
func Search(idx bleve.Index, queryString string, limit int) ([]Hit, uint64, error) {
	if strings.TrimSpace(queryString) == "" {
		return nil, 0, fmt.Errorf("search query is empty")
	}
	if limit <= 0 {
		limit = 20
	}

	q := bleve.NewQueryStringQuery(queryString)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"*"}

	result, err := idx.Search(req)
	if err != nil {
		return nil, 0, fmt.Errorf("searching index: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Fields: h.Fields})
	}
	return hits, result.Total, nil
}
