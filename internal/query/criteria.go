package query

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCriterion is returned for values outside a tag's fixed choices.
var ErrInvalidCriterion = errors.New("invalid search criterion")

// Criteria is the flat set of filters the command line exposes, one field per tag.
// Empty fields are omitted from the query.
type Criteria struct {
	Genus       string
	Species     string
	Subspecies  string
	Family      string
	Group       string
	EnglishName string

	Country   string
	Location  string
	Area      string
	Box       string // "latMin,lonMin,latMax,lonMax"
	Latitude  string
	Longitude string
	Altitude  string

	Quality   string
	SoundType string
	Sex       string
	LifeStage string
	Method    string

	Year      string
	Month     string
	SinceDays int
	TimeOfDay string

	Recordist    string
	Length       string
	License      string
	Also         string
	AnimalSeen   string // yes|no
	PlaybackUsed string // yes|no

	NumberInGroup      string
	CatalogueNumber    string
	Temperature        string
	RegistrationNumber string
	Automatic          string // yes|no|unknown
	Device             string
	Microphone         string
	SampleRate         string
	Remarks            string
}

// Builder validates the criteria and returns a Builder holding them in a
// fixed order (taxonomy, geography, quality, time, other, recording details).
func (c Criteria) Builder() (*Builder, error) {
	b := New()

	b.Genus(c.Genus).
		Species(c.Species).
		Subspecies(c.Subspecies).
		Family(c.Family).
		Group(c.Group).
		EnglishName(c.EnglishName)

	b.Country(c.Country).
		Location(c.Location).
		Area(c.Area)
	if strings.TrimSpace(c.Box) != "" {
		latMin, lonMin, latMax, lonMax, err := ParseBoundingBox(c.Box)
		if err != nil {
			return nil, err
		}
		b.BoundingBox(latMin, lonMin, latMax, lonMax)
	}
	b.Latitude(c.Latitude).
		Longitude(c.Longitude).
		Altitude(c.Altitude)

	b.Quality(c.Quality).
		SoundType(c.SoundType).
		Sex(c.Sex).
		LifeStage(c.LifeStage).
		Method(c.Method)

	b.Year(c.Year).
		Month(c.Month).
		Since(c.SinceDays).
		TimeOfDay(c.TimeOfDay)

	b.Recordist(c.Recordist).
		Length(c.Length).
		License(c.License).
		Also(c.Also)
	if c.AnimalSeen != "" {
		seen, err := parseYesNo("animal-seen", c.AnimalSeen)
		if err != nil {
			return nil, err
		}
		b.AnimalSeen(seen)
	}
	if c.PlaybackUsed != "" {
		used, err := parseYesNo("playback-used", c.PlaybackUsed)
		if err != nil {
			return nil, err
		}
		b.PlaybackUsed(used)
	}

	b.NumberInGroup(c.NumberInGroup).
		CatalogueNumber(c.CatalogueNumber).
		Temperature(c.Temperature).
		RegistrationNumber(c.RegistrationNumber)
	if c.Automatic != "" {
		switch strings.ToLower(c.Automatic) {
		case "yes", "no", "unknown":
			b.AutomaticRecording(strings.ToLower(c.Automatic))
		default:
			return nil, fmt.Errorf("%w: auto must be yes, no or unknown, got %q", ErrInvalidCriterion, c.Automatic)
		}
	}
	b.Device(c.Device).
		Microphone(c.Microphone).
		SampleRate(c.SampleRate).
		Remarks(c.Remarks)

	return b, nil
}

func parseYesNo(tag, v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	}
	return false, fmt.Errorf("%w: %s must be yes or no, got %q", ErrInvalidCriterion, tag, v)
}
