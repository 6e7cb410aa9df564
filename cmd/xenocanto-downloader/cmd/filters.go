package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"go-xenocanto-download/internal/query"
)

var errNoFilters = errors.New("no search filters specified")

// addFilterFlags registers one flag per search tag on cmd, bound to c.
func addFilterFlags(cmd *cobra.Command, c *query.Criteria) {
	f := cmd.Flags()

	// Taxonomy
	f.StringVarP(&c.Genus, "genus", "g", "", "Genus (gen:)")
	f.StringVarP(&c.Species, "species", "s", "", "Species epithet (sp:)")
	f.StringVar(&c.Subspecies, "subspecies", "", "Subspecies (ssp:)")
	f.StringVar(&c.Family, "family", "", "Family (fam:)")
	f.StringVar(&c.Group, "group", "", "Group: birds, grasshoppers, bats, frogs, land mammals (grp:)")
	f.StringVar(&c.EnglishName, "english-name", "", "English name (en:)")

	// Geography
	f.StringVarP(&c.Country, "country", "c", "", "Country (cnt:)")
	f.StringVar(&c.Location, "location", "", "Location name (loc:)")
	f.StringVar(&c.Area, "area", "", "World area: africa, america, asia, australia, europe (area:)")
	f.StringVar(&c.Box, "box", "", "Bounding box LAT_MIN,LON_MIN,LAT_MAX,LON_MAX (box:)")
	f.StringVar(&c.Latitude, "lat", "", "Latitude or range, e.g. \">50\" (lat:)")
	f.StringVar(&c.Longitude, "lon", "", "Longitude or range (lon:)")
	f.StringVar(&c.Altitude, "alt", "", "Altitude in metres or range (alt:)")

	// Quality and sound
	f.StringVarP(&c.Quality, "quality", "q", "", "Quality rating A-E, or a comparison like \">C\" (q:)")
	f.StringVar(&c.SoundType, "type", "", "Sound type, e.g. song, call (type:)")
	f.StringVar(&c.Sex, "sex", "", "Sex: male, female, uncertain (sex:)")
	f.StringVar(&c.LifeStage, "stage", "", "Life stage: adult, juvenile, nestling, nymph, subadult (stage:)")
	f.StringVar(&c.Method, "method", "", "Recording method (method:)")

	// Time
	f.StringVar(&c.Year, "year", "", "Year or range, e.g. \">2020\" (year:)")
	f.StringVar(&c.Month, "month", "", "Month or range (month:)")
	f.IntVar(&c.SinceDays, "since", 0, "Only recordings uploaded in the last N days (since:)")
	f.StringVar(&c.TimeOfDay, "time", "", "Time of day or range, e.g. 06:00-09:00 (time:)")

	// Other
	f.StringVar(&c.Recordist, "recordist", "", "Recordist name (rec:)")
	f.StringVar(&c.Length, "length", "", "Recording length in seconds or range, e.g. 10-30 (len:)")
	f.StringVar(&c.License, "license", "", "License, e.g. BY-NC-SA (lic:)")
	f.StringVar(&c.Also, "also", "", "Background species (also:)")
	f.StringVar(&c.AnimalSeen, "animal-seen", "", "Animal seen: yes or no (animal-seen:)")
	f.StringVar(&c.PlaybackUsed, "playback-used", "", "Playback used: yes or no (playback-used:)")

	// Recording details
	f.StringVar(&c.NumberInGroup, "number", "", "Number of individuals (nr:)")
	f.StringVar(&c.CatalogueNumber, "catalogue", "", "Collection catalogue number (catnr:)")
	f.StringVar(&c.Temperature, "temperature", "", "Temperature or range (temp:)")
	f.StringVar(&c.RegistrationNumber, "registration", "", "Registration number (regnr:)")
	f.StringVar(&c.Automatic, "automatic", "", "Automatic recording: yes, no or unknown (auto:)")
	f.StringVar(&c.Device, "device", "", "Recording device (dvc:)")
	f.StringVar(&c.Microphone, "microphone", "", "Microphone (mic:)")
	f.StringVar(&c.SampleRate, "sample-rate", "", "Sample rate in Hz (smp:)")
	f.StringVar(&c.Remarks, "remarks", "", "Text in the remarks (rmk:)")
}

// buildQuery validates c and returns the query string. A criteria set with
// no filters is an error.
func buildQuery(c query.Criteria) (string, error) {
	b, err := c.Builder()
	if err != nil {
		return "", err
	}
	if b.Len() == 0 {
		return "", errNoFilters
	}
	return b.Build(), nil
}
