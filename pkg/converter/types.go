// Package converter turns Standard MIDI Files into quantized melody strings for MakeCode targets
package converter

import (
	"strings"

	"go.uber.org/zap"
)

// Rest is the symbol of an unoccupied beat slot
const Rest = "R"

// Note is a single sounding note as produced by the MIDI source
type Note struct {
	Name     string  `json:"name"`     // Pitch name, e.g. "C4"
	Midi     int     `json:"midi"`     // MIDI note number (0-127)
	Time     float64 `json:"time"`     // Start time in seconds
	Duration float64 `json:"duration"` // Seconds between note on and note off
	Velocity float64 `json:"velocity"` // Normalized 0-1
}

// Track is one parsed MIDI track
type Track struct {
	ID               int     `json:"id"`
	Name             string  `json:"name"`
	Notes            []Note  `json:"notes"`
	StartTime        float64 `json:"startTime"`
	Duration         float64 `json:"duration"`
	IsPercussion     bool    `json:"isPercussion"`
	ChannelNumber    int     `json:"channelNumber"`
	InstrumentNumber int     `json:"instrumentNumber"`
	InstrumentFamily string  `json:"instrumentFamily"`
	Instrument       string  `json:"instrument"`
}

// Header holds the transport and timing data of a song
type Header struct {
	Name          string  `json:"name"`
	BPM           float64 `json:"bpm"`
	TimeSignature [2]int  `json:"timeSignature"`
	PPQ           int     `json:"PPQ"`
}

// MidiData is a parsed MIDI file. Its JSON encoding is the passthrough export format.
type MidiData struct {
	Header    Header  `json:"header"`
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
	Tracks    []Track `json:"tracks"`
}

// Token is one run of identical beat slots
type Token struct {
	Symbol string `json:"symbol"` // Rest or a pitch name
	Beats  int    `json:"beats"`  // Number of slots covered, always >= 1
}

// IsRest reports whether the token is a run of silence
func (t Token) IsRest() bool {
	return t.Symbol == Rest
}

// TrackOutput is the quantized, monophonic form of a track
type TrackOutput struct {
	Tokens     []Token `json:"tokens"`
	Instrument string  `json:"instrument"`
}

// IsSilent reports whether the track renders as a single rest in the given
// format. Silent tracks are dropped before emission. Under TokensLegacy a
// track whose only note fills the last slot is silent, since that run is
// not written.
func (o TrackOutput) IsSilent(format TokenFormat) bool {
	notes := o.Notes(format)
	return len(notes) == 1 && strings.HasPrefix(notes[0], Rest+":")
}

// Slots returns the number of grid slots the tokens cover
func (o TrackOutput) Slots() int {
	n := 0
	for _, t := range o.Tokens {
		n += t.Beats
	}
	return n
}

// Notes renders the tokens in the given textual format
func (o TrackOutput) Notes(format TokenFormat) []string {
	return format.Encode(o.Tokens)
}

// Song is a titled set of quantized tracks, the unit of an extension song list
type Song struct {
	ID     string        `json:"id"` // TypeScript identifier used in the generated enum
	Title  string        `json:"title"`
	Tracks []TrackOutput `json:"tracks"`
}

// TargetID identifies an output target
type TargetID string

const (
	TargetMicrobit TargetID = "microbit"
	TargetAdafruit TargetID = "adafruit"
	TargetArcade   TargetID = "arcade"
	TargetJSON     TargetID = "json"
)

// Target formats quantized tracks into a specific platform's melody syntax
type Target interface {
	Name() string
	ID() TargetID
	// Extension is the file extension of generated output, including the dot
	Extension() string
	// EmitSnippet renders a single song as a standalone program
	EmitSnippet(tracks []TrackOutput, format TokenFormat) string
	// EmitExtension renders a song list as an editor extension module
	EmitExtension(songs []Song, format TokenFormat) string
}

// Converter handles conversions for one target
type Converter struct {
	target Target
	format TokenFormat
	log    *zap.Logger
}

// Option configures a Converter
type Option func(*Converter)

// WithTokenFormat sets the textual token format (default TokensLegacy)
func WithTokenFormat(format TokenFormat) Option {
	return func(c *Converter) {
		c.format = format
	}
}

// WithLogger sets the logger used for per-track diagnostics
func WithLogger(log *zap.Logger) Option {
	return func(c *Converter) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a new Converter with the specified target
func New(target Target, opts ...Option) *Converter {
	c := &Converter{
		target: target,
		format: TokensLegacy,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetTarget returns the current target
func (c *Converter) GetTarget() Target {
	return c.target
}

// SetTarget sets the target for conversion
func (c *Converter) SetTarget(target Target) {
	c.target = target
}

// TokenFormat returns the token format used when emitting
func (c *Converter) TokenFormat() TokenFormat {
	return c.format
}
