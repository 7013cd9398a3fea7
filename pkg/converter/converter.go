package converter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Format represents a file format
type Format string

const (
	FormatMIDI       Format = "midi"
	FormatJSON       Format = "json"
	FormatTypeScript Format = "ts"
	FormatUnknown    Format = "unknown"
)

// ErrNoTarget is returned when a conversion needs a target and none is set
var ErrNoTarget = errors.New("no target configured")

// SkippedTracksError lists the tracks that failed to quantize while the rest
// of the song converted. Output returned alongside it is usable.
type SkippedTracksError struct {
	Errs []error
}

func (e *SkippedTracksError) Error() string {
	if len(e.Errs) == 0 {
		return "no tracks skipped"
	}
	return errors.Join(e.Errs...).Error()
}

func (e *SkippedTracksError) Unwrap() []error {
	return e.Errs
}

// Warnings returns one message per skipped track
func (e *SkippedTracksError) Warnings() []string {
	out := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		out[i] = err.Error()
	}
	return out
}

// IsPartial reports whether err only lists skipped tracks, so the output
// produced with it can still be used
func IsPartial(err error) bool {
	var skipped *SkippedTracksError
	return errors.As(err, &skipped)
}

// DetectFormat detects the format of a file based on extension
func DetectFormat(filename string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".mid", ".midi":
		return FormatMIDI
	case ".json":
		return FormatJSON
	case ".ts", ".js", ".txt":
		return FormatTypeScript
	default:
		return FormatUnknown
	}
}

// DetectFormatFromContent detects format from file content
func DetectFormatFromContent(data []byte) Format {
	if len(data) >= 4 && string(data[:4]) == "MThd" {
		return FormatMIDI
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}

	return FormatUnknown
}

// LoadSong reads a song from MIDI bytes or from its JSON export
func LoadSong(data []byte) (*MidiData, error) {
	switch DetectFormatFromContent(data) {
	case FormatMIDI:
		return NewMIDIConverter().ParseMIDI(data)
	case FormatJSON:
		var md MidiData
		if err := json.Unmarshal(data, &md); err != nil {
			return nil, fmt.Errorf("failed to decode song JSON: %w", err)
		}
		return &md, nil
	default:
		return nil, errors.New("unrecognized input: expected a MIDI file or song JSON")
	}
}

// LoadSongFile reads a song from disk. Files with a MIDI extension are parsed
// as MIDI; anything else is sniffed like LoadSong.
func LoadSongFile(path string) (*MidiData, error) {
	if DetectFormat(path) == FormatMIDI {
		return NewMIDIConverter().ParseMIDIFile(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read song file: %w", err)
	}
	return LoadSong(data)
}

// MarshalSong serializes a parsed song as indented JSON
func MarshalSong(md *MidiData) ([]byte, error) {
	if md == nil {
		return nil, errors.New("nil song")
	}
	return json.MarshalIndent(md, "", "  ")
}

// QuantizeSong quantizes every track of a song and drops silent ones.
//
// Tracks are quantized concurrently and returned in their original order. A
// track that fails does not stop the others; the failures are returned as a
// *SkippedTracksError alongside the tracks that succeeded. Song-level errors
// (bad tempo, oversized grid) return no tracks.
func (c *Converter) QuantizeSong(md *MidiData) ([]TrackOutput, error) {
	if md == nil {
		return nil, errors.New("nil song")
	}

	beat, err := BeatLength(md.Header.BPM)
	if err != nil {
		return nil, err
	}
	if _, err := gridSize(md.Duration, beat); err != nil {
		return nil, err
	}

	outputs := make([]TrackOutput, len(md.Tracks))
	errs := make([]error, len(md.Tracks))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range md.Tracks {
		g.Go(func() error {
			out, err := Quantize(md.Tracks[i], md.Duration, beat)
			if err != nil {
				errs[i] = fmt.Errorf("track %d: %w", i, err)
				return nil
			}
			outputs[i] = out
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]TrackOutput, 0, len(outputs))
	for i, out := range outputs {
		if errs[i] != nil {
			c.log.Warn("skipping track", zap.Int("track", i), zap.Error(errs[i]))
			continue
		}
		if out.IsSilent(c.format) {
			c.log.Debug("dropping silent track", zap.Int("track", i), zap.String("instrument", out.Instrument))
			continue
		}
		c.log.Debug("quantized track",
			zap.Int("track", i),
			zap.String("instrument", out.Instrument),
			zap.Int("tokens", len(out.Tokens)),
			zap.Int("slots", out.Slots()),
		)
		kept = append(kept, out)
	}

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return kept, &SkippedTracksError{Errs: failed}
	}
	return kept, nil
}

// Convert converts MIDI (or song JSON) data to the target's snippet text
func (c *Converter) Convert(data []byte) (string, error) {
	if c.target == nil {
		return "", ErrNoTarget
	}

	md, err := LoadSong(data)
	if err != nil {
		return "", err
	}
	return c.ConvertSong(md)
}

// ConvertSong renders a parsed song as the target's snippet text. When some
// tracks could not be quantized the snippet is still returned, together with
// a *SkippedTracksError.
func (c *Converter) ConvertSong(md *MidiData) (string, error) {
	if c.target == nil {
		return "", ErrNoTarget
	}

	// JSON export bypasses quantization
	if c.target.ID() == TargetJSON {
		out, err := MarshalSong(md)
		if err != nil {
			return "", fmt.Errorf("failed to encode song: %w", err)
		}
		return string(out), nil
	}

	tracks, err := c.QuantizeSong(md)
	if err != nil && tracks == nil {
		return "", err
	}

	c.log.Info("converted song",
		zap.String("target", string(c.target.ID())),
		zap.Float64("bpm", md.Header.BPM),
		zap.Float64("duration", md.Duration),
		zap.Int("tracks", len(tracks)),
	)

	return c.target.EmitSnippet(tracks, c.format), err
}

// ConvertSongs renders a song list as an editor extension for the target
func (c *Converter) ConvertSongs(songs []Song) (string, error) {
	if c.target == nil {
		return "", ErrNoTarget
	}
	if len(songs) == 0 {
		return "", errors.New("song list is empty")
	}
	return c.target.EmitExtension(songs, c.format), nil
}

// Preview renders the quantized form of a song back to MIDI for auditioning.
// Skipped tracks are reported the same way as in ConvertSong.
func (c *Converter) Preview(data []byte) ([]byte, error) {
	md, err := LoadSong(data)
	if err != nil {
		return nil, err
	}

	tracks, qerr := c.QuantizeSong(md)
	if qerr != nil && tracks == nil {
		return nil, qerr
	}

	out, err := NewMIDIConverter().GenerateMIDI(tracks, md.Header.BPM)
	if err != nil {
		return nil, err
	}
	return out, qerr
}

// ConvertFile converts a file to the target's format, or to MIDI when the
// output path has a MIDI extension. The output is written even when some
// tracks were skipped; those are returned as a *SkippedTracksError.
func (c *Converter) ConvertFile(inputPath, outputPath string) error {
	md, err := LoadSongFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to load input file: %w", err)
	}

	var skipped error
	switch DetectFormat(outputPath) {
	case FormatMIDI:
		tracks, qerr := c.QuantizeSong(md)
		if qerr != nil && tracks == nil {
			return fmt.Errorf("conversion failed: %w", qerr)
		}
		if err := NewMIDIConverter().WriteMIDIFile(tracks, md.Header.BPM, outputPath); err != nil {
			return fmt.Errorf("conversion failed: %w", err)
		}
		skipped = qerr
	default:
		text, cerr := c.ConvertSong(md)
		if cerr != nil && !IsPartial(cerr) {
			return fmt.Errorf("conversion failed: %w", cerr)
		}
		if err := os.WriteFile(outputPath, []byte(text), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		skipped = cerr
	}

	return skipped
}

// OutputPath derives an output filename from an input path and a target
func OutputPath(input string, target Target) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + target.Extension()
}
