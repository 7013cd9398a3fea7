package targets

import (
	"encoding/json"

	"github.com/james-see/midi2makecode/pkg/converter"
)

// JSON exports songs as JSON. Whole-file conversions bypass the quantizer
// and export the parsed MIDI; EmitSnippet and EmitExtension export quantized tracks.
type JSON struct{}

type jsonTrack struct {
	Notes      []string `json:"notes"`
	Instrument string   `json:"instrument"`
}

type jsonSong struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Tracks []jsonTrack `json:"tracks"`
}

// NewJSON creates a new JSON emitter
func NewJSON() *JSON {
	return &JSON{}
}

// Name returns the target name
func (j *JSON) Name() string {
	return "JSON"
}

// ID returns the target ID
func (j *JSON) ID() converter.TargetID {
	return converter.TargetJSON
}

// Extension returns the generated file extension
func (j *JSON) Extension() string {
	return ".json"
}

// EmitSnippet writes the quantized tracks as a JSON array
func (j *JSON) EmitSnippet(tracks []converter.TrackOutput, format converter.TokenFormat) string {
	return marshal(toJSONTracks(tracks, format))
}

// EmitExtension writes the song list as a JSON array
func (j *JSON) EmitExtension(songs []converter.Song, format converter.TokenFormat) string {
	out := make([]jsonSong, 0, len(songs))
	for _, song := range songs {
		out = append(out, jsonSong{
			ID:     song.ID,
			Title:  song.Title,
			Tracks: toJSONTracks(song.Tracks, format),
		})
	}
	return marshal(out)
}

func toJSONTracks(tracks []converter.TrackOutput, format converter.TokenFormat) []jsonTrack {
	out := make([]jsonTrack, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, jsonTrack{Notes: t.Notes(format), Instrument: t.Instrument})
	}
	return out
}

func marshal(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
