package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidBoundingBox is returned when a box string is not four comma-separated numbers.
var ErrInvalidBoundingBox = errors.New("invalid bounding box")

// Builder accumulates search criteria as ordered tag:value fragments in the
// catalog's query language. The zero value is ready to use.
type Builder struct {
	fragments []string
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{}
}

// Add appends a tag:value fragment. Empty values are ignored. The value is
// wrapped in double quotes when forceQuote is set or it contains a space.
func (b *Builder) Add(tag, value string, forceQuote bool) *Builder {
	if value == "" {
		return b
	}
	if forceQuote || strings.Contains(value, " ") {
		b.fragments = append(b.fragments, fmt.Sprintf(`%s:"%s"`, tag, value))
	} else {
		b.fragments = append(b.fragments, tag+":"+value)
	}
	return b
}

// Build returns the space-joined fragments, or "" if none were added.
func (b *Builder) Build() string {
	return strings.Join(b.fragments, " ")
}

func (b *Builder) String() string {
	return b.Build()
}

// Len reports how many fragments have been added.
func (b *Builder) Len() int {
	return len(b.fragments)
}

// --- Taxonomy ---

func (b *Builder) Genus(v string) *Builder       { return b.Add("gen", v, false) }
func (b *Builder) Species(v string) *Builder     { return b.Add("sp", v, false) }
func (b *Builder) Subspecies(v string) *Builder  { return b.Add("ssp", v, false) }
func (b *Builder) Family(v string) *Builder      { return b.Add("fam", v, false) }
func (b *Builder) Group(v string) *Builder       { return b.Add("grp", v, false) }
func (b *Builder) EnglishName(v string) *Builder { return b.Add("en", v, false) }

// --- Geography ---

func (b *Builder) Country(v string) *Builder  { return b.Add("cnt", v, false) }
func (b *Builder) Location(v string) *Builder { return b.Add("loc", v, false) }

// Area filters by continent/region, e.g. "europe" or "america".
func (b *Builder) Area(v string) *Builder { return b.Add("area", v, false) }

// Latitude, Longitude and Altitude take a value or range such as "40-45" or ">50".
func (b *Builder) Latitude(v string) *Builder  { return b.Add("lat", v, true) }
func (b *Builder) Longitude(v string) *Builder { return b.Add("lon", v, true) }
func (b *Builder) Altitude(v string) *Builder  { return b.Add("alt", v, true) }

// BoundingBox serializes as a single unquoted box:latMin,lonMin,latMax,lonMax
// fragment. Coordinates are not range-checked.
func (b *Builder) BoundingBox(latMin, lonMin, latMax, lonMax float64) *Builder {
	parts := []string{
		formatCoord(latMin),
		formatCoord(lonMin),
		formatCoord(latMax),
		formatCoord(lonMax),
	}
	return b.Add("box", strings.Join(parts, ","), false)
}

// --- Quality and sound ---

// Quality accepts a grade A-E, optionally with an operator such as ">B".
func (b *Builder) Quality(v string) *Builder   { return b.Add("q", v, false) }
func (b *Builder) SoundType(v string) *Builder { return b.Add("type", v, false) }
func (b *Builder) Sex(v string) *Builder       { return b.Add("sex", v, false) }
func (b *Builder) LifeStage(v string) *Builder { return b.Add("stage", v, false) }
func (b *Builder) Method(v string) *Builder    { return b.Add("method", v, false) }

// --- Time ---

func (b *Builder) Year(v string) *Builder  { return b.Add("year", v, false) }
func (b *Builder) Month(v string) *Builder { return b.Add("month", v, false) }

// Since restricts results to recordings uploaded in the last days days.
// Non-positive values add nothing.
func (b *Builder) Since(days int) *Builder {
	if days <= 0 {
		return b
	}
	return b.Add("since", strconv.Itoa(days), false)
}

// TimeOfDay takes "06:00" or a range "06:00-12:00".
func (b *Builder) TimeOfDay(v string) *Builder { return b.Add("time", v, true) }

// --- Recording details ---

func (b *Builder) Recordist(v string) *Builder { return b.Add("rec", v, false) }

// Length takes a duration in seconds or a range such as "10-20" or "<30".
func (b *Builder) Length(v string) *Builder  { return b.Add("len", v, true) }
func (b *Builder) License(v string) *Builder { return b.Add("lic", v, false) }

// Also filters by a background species.
func (b *Builder) Also(v string) *Builder { return b.Add("also", v, false) }

func (b *Builder) AnimalSeen(seen bool) *Builder   { return b.Add("animal-seen", yesNo(seen), false) }
func (b *Builder) PlaybackUsed(used bool) *Builder { return b.Add("playback-used", yesNo(used), false) }

func (b *Builder) NumberInGroup(v string) *Builder      { return b.Add("nr", v, false) }
func (b *Builder) CatalogueNumber(v string) *Builder    { return b.Add("catnr", v, false) }
func (b *Builder) Temperature(v string) *Builder        { return b.Add("temp", v, false) }
func (b *Builder) RegistrationNumber(v string) *Builder { return b.Add("regnr", v, false) }

// AutomaticRecording takes yes, no or unknown.
func (b *Builder) AutomaticRecording(v string) *Builder { return b.Add("auto", v, false) }
func (b *Builder) Device(v string) *Builder             { return b.Add("dvc", v, false) }
func (b *Builder) Microphone(v string) *Builder         { return b.Add("mic", v, false) }
func (b *Builder) SampleRate(v string) *Builder         { return b.Add("smp", v, false) }
func (b *Builder) Remarks(v string) *Builder            { return b.Add("rmk", v, false) }

// ParseBoundingBox parses "latMin,lonMin,latMax,lonMax".
func ParseBoundingBox(s string) (latMin, lonMin, latMax, lonMax float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("%w: expected 4 coordinates, got %d", ErrInvalidBoundingBox, len(parts))
	}

	coords := make([]float64, 4)
	for i, p := range parts {
		v, perr := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if perr != nil {
			return 0, 0, 0, 0, fmt.Errorf("%w: coordinate %d (%q): %v", ErrInvalidBoundingBox, i+1, strings.TrimSpace(p), perr)
		}
		coords[i] = v
	}
	return coords[0], coords[1], coords[2], coords[3], nil
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
