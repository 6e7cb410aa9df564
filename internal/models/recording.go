package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Recording is one catalog entry as returned by the search endpoint.
// Known fields are typed; every field the server sent, including ones this
// package does not know about, is kept in raw so Field can render it.
type Recording struct {
	ID           string              `json:"id"`
	Genus        string              `json:"gen"`
	Species      string              `json:"sp"`
	Subspecies   string              `json:"ssp"`
	Group        string              `json:"grp"`
	EnglishName  string              `json:"en"`
	Recordist    string              `json:"rec"`
	Country      string              `json:"cnt"`
	Locality     string              `json:"loc"`
	Lat          string              `json:"lat"`
	Lng          string              `json:"lng"`
	Alt          string              `json:"alt"`
	Type         string              `json:"type"`
	Sex          string              `json:"sex"`
	Stage        string              `json:"stage"`
	Method       string              `json:"method"`
	URL          string              `json:"url"`
	File         string              `json:"file"`
	FileName     string              `json:"file-name"`
	License      string              `json:"lic"`
	Quality      string              `json:"q"`
	Length       string              `json:"length"`
	Time         string              `json:"time"`
	Date         string              `json:"date"`
	Uploaded     string              `json:"uploaded"`
	Remarks      string              `json:"rmk"`
	AnimalSeen   string              `json:"animal-seen"`
	PlaybackUsed string              `json:"playback-used"`
	Temperature  string              `json:"temp"`
	RegNr        string              `json:"regnr"`
	Auto         string              `json:"auto"`
	Device       string              `json:"dvc"`
	Microphone   string              `json:"mic"`
	SampleRate   string              `json:"smp"`
	Also         StringOrStringSlice `json:"also"`

	raw map[string]json.RawMessage
}

// stringField maps a wire key to the typed field holding it.
func (r *Recording) stringField(key string) *string {
	switch key {
	case "id":
		return &r.ID
	case "gen":
		return &r.Genus
	case "sp":
		return &r.Species
	case "ssp":
		return &r.Subspecies
	case "grp":
		return &r.Group
	case "en":
		return &r.EnglishName
	case "rec":
		return &r.Recordist
	case "cnt":
		return &r.Country
	case "loc":
		return &r.Locality
	case "lat":
		return &r.Lat
	case "lng":
		return &r.Lng
	case "alt":
		return &r.Alt
	case "type":
		return &r.Type
	case "sex":
		return &r.Sex
	case "stage":
		return &r.Stage
	case "method":
		return &r.Method
	case "url":
		return &r.URL
	case "file":
		return &r.File
	case "file-name":
		return &r.FileName
	case "lic":
		return &r.License
	case "q":
		return &r.Quality
	case "length":
		return &r.Length
	case "time":
		return &r.Time
	case "date":
		return &r.Date
	case "uploaded":
		return &r.Uploaded
	case "rmk":
		return &r.Remarks
	case "animal-seen":
		return &r.AnimalSeen
	case "playback-used":
		return &r.PlaybackUsed
	case "temp":
		return &r.Temperature
	case "regnr":
		return &r.RegNr
	case "auto":
		return &r.Auto
	case "dvc":
		return &r.Device
	case "mic":
		return &r.Microphone
	case "smp":
		return &r.SampleRate
	}
	return nil
}

// UnmarshalJSON accepts any JSON object. Known keys are rendered into the
// typed fields regardless of their JSON type (the API sends ids, coordinates
// and sample rates as either strings or numbers).
func (r *Recording) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("recording is not a JSON object: %w", err)
	}

	*r = Recording{raw: raw}
	for key, value := range raw {
		if key == "also" {
			var also StringOrStringSlice
			if err := json.Unmarshal(value, &also); err != nil {
				// Tolerate odd shapes; keep the rendered form.
				if s := renderRaw(value); s != "" {
					also = StringOrStringSlice{s}
				}
			}
			r.Also = also
			continue
		}
		if ptr := r.stringField(key); ptr != nil {
			*ptr = renderRaw(value)
		}
	}
	return nil
}

// Field renders a column by its wire key. Unknown keys fall back to the raw
// payload; a missing field renders as "".
func (r *Recording) Field(key string) string {
	if key == "also" {
		return r.Also.Join("; ")
	}
	if ptr := r.stringField(key); ptr != nil {
		return *ptr
	}
	if value, ok := r.raw[key]; ok {
		return renderRaw(value)
	}
	return ""
}

// DisplayName is "Genus species" with the same placeholders the folder layout uses.
func (r *Recording) DisplayName() string {
	gen := strings.TrimSpace(r.Genus)
	if gen == "" {
		gen = "Unknown"
	}
	sp := strings.TrimSpace(r.Species)
	if sp == "" {
		sp = "unknown"
	}
	return gen + " " + sp
}

func renderRaw(value json.RawMessage) string {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil {
			parts := make([]string, 0, len(items))
			for _, item := range items {
				if s := renderRaw(item); s != "" {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, "; ")
		}
	case '{':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.String()
		}
	}
	return string(trimmed)
}
