package query

import (
	"errors"
	"testing"
)

func TestBuilderAdd(t *testing.T) {
	tests := []struct {
		name       string
		tag        string
		value      string
		forceQuote bool
		expected   string
	}{
		{name: "bare value", tag: "gen", value: "Larus", expected: "gen:Larus"},
		{name: "forced quote", tag: "lat", value: ">50", forceQuote: true, expected: `lat:">50"`},
		{name: "space forces quote", tag: "cnt", value: "United Kingdom", expected: `cnt:"United Kingdom"`},
		{name: "space overrides quote-exempt tag", tag: "grp", value: "bats and birds", expected: `grp:"bats and birds"`},
		{name: "empty value ignored", tag: "sp", value: "", expected: ""},
		{name: "unknown tag accepted", tag: "madeup", value: "x", expected: "madeup:x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New().Add(tt.tag, tt.value, tt.forceQuote).Build()
			if got != tt.expected {
				t.Errorf("Add(%q, %q, %v).Build() = %q, want %q", tt.tag, tt.value, tt.forceQuote, got, tt.expected)
			}
		})
	}
}

func TestBuilderInsertionOrder(t *testing.T) {
	b := New().Group("birds").Country("Spain").Quality("A")
	if got := b.Build(); got != "grp:birds cnt:Spain q:A" {
		t.Errorf("Build() = %q", got)
	}

	reversed := New().Quality("A").Country("Spain").Group("birds")
	if got := reversed.Build(); got != "q:A cnt:Spain grp:birds" {
		t.Errorf("Build() on reversed order = %q", got)
	}
}

func TestBuilderIsPure(t *testing.T) {
	b := New().Genus("Larus").Species("fuscus")
	first := b.Build()
	second := b.Build()
	if first != second {
		t.Errorf("Build() not idempotent: %q vs %q", first, second)
	}
	if b.String() != first {
		t.Errorf("String() = %q, want %q", b.String(), first)
	}

	again := New().Genus("Larus").Species("fuscus").Build()
	if again != first {
		t.Errorf("Same additions gave different output: %q vs %q", again, first)
	}
}

func TestBuilderEmpty(t *testing.T) {
	var b Builder
	if got := b.Build(); got != "" {
		t.Errorf("empty Build() = %q, want empty string", got)
	}
	b.Genus("").Country("").Remarks("")
	if b.Len() != 0 {
		t.Errorf("Len() = %d after empty additions, want 0", b.Len())
	}
}

func TestBuilderTypedSetters(t *testing.T) {
	tests := []struct {
		name     string
		build    func(b *Builder)
		expected string
	}{
		{"species", func(b *Builder) { b.Species("fuscus") }, "sp:fuscus"},
		{"english name", func(b *Builder) { b.EnglishName("Lesser Black-backed Gull") }, `en:"Lesser Black-backed Gull"`},
		{"latitude forced", func(b *Builder) { b.Latitude("40-45") }, `lat:"40-45"`},
		{"longitude forced", func(b *Builder) { b.Longitude("<-100") }, `lon:"<-100"`},
		{"altitude forced", func(b *Builder) { b.Altitude("100-500") }, `alt:"100-500"`},
		{"length forced", func(b *Builder) { b.Length(">60") }, `len:">60"`},
		{"time forced", func(b *Builder) { b.TimeOfDay("06:00-12:00") }, `time:"06:00-12:00"`},
		{"remarks single word", func(b *Builder) { b.Remarks("dawn") }, "rmk:dawn"},
		{"remarks phrase", func(b *Builder) { b.Remarks("dawn chorus") }, `rmk:"dawn chorus"`},
		{"animal seen", func(b *Builder) { b.AnimalSeen(true) }, "animal-seen:yes"},
		{"playback used", func(b *Builder) { b.PlaybackUsed(false) }, "playback-used:no"},
		{"since days", func(b *Builder) { b.Since(30) }, "since:30"},
		{"since zero ignored", func(b *Builder) { b.Since(0) }, ""},
		{"box", func(b *Builder) { b.BoundingBox(40.5, -10, 45, 0.25) }, "box:40.5,-10,45,0.25"},
		{"quality operator", func(b *Builder) { b.Quality(">B") }, "q:>B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			tt.build(b)
			if got := b.Build(); got != tt.expected {
				t.Errorf("Build() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseBoundingBox(t *testing.T) {
	latMin, lonMin, latMax, lonMax, err := ParseBoundingBox(" 40.1, -10 ,45,0")
	if err != nil {
		t.Fatalf("ParseBoundingBox returned error: %v", err)
	}
	if latMin != 40.1 || lonMin != -10 || latMax != 45 || lonMax != 0 {
		t.Errorf("ParseBoundingBox = %v,%v,%v,%v", latMin, lonMin, latMax, lonMax)
	}

	bad := []string{"", "1,2,3", "1,2,3,4,5", "a,b,c,d", "1,,3,4"}
	for _, in := range bad {
		t.Run(in, func(t *testing.T) {
			_, _, _, _, err := ParseBoundingBox(in)
			if !errors.Is(err, ErrInvalidBoundingBox) {
				t.Errorf("ParseBoundingBox(%q) error = %v, want ErrInvalidBoundingBox", in, err)
			}
		})
	}
}
