package converter

import (
	"errors"
	"fmt"
	"math"
)

const (
	// StepsPerBeat is the number of grid slots per quarter note (a sixteenth-note grid)
	StepsPerBeat = 4
	// MaxSlots bounds the grid of one song, a little over two hours at 480 bpm
	MaxSlots = 1 << 18
)

var (
	// ErrInvalidTempo is returned when a tempo cannot produce a finite grid
	ErrInvalidTempo = errors.New("invalid tempo")
	// ErrInvalidNote is returned for notes outside the MIDI range or with unusable timing
	ErrInvalidNote = errors.New("invalid note")
	// ErrGridTooLarge is returned when a song would need more than MaxSlots slots
	ErrGridTooLarge = errors.New("grid too large")
)

// BeatLength returns the length in seconds of one grid slot at the given tempo
func BeatLength(bpm float64) (float64, error) {
	if math.IsNaN(bpm) || math.IsInf(bpm, 0) || bpm <= 0 {
		return 0, fmt.Errorf("%w: %v bpm", ErrInvalidTempo, bpm)
	}
	return (60 / bpm) / StepsPerBeat, nil
}

// SlotCount returns the number of grid slots needed to cover totalDuration.
// The grid is sized by stepping a cursor one slot at a time until it reaches
// totalDuration, so accumulated rounding matches the slot boundaries notes see.
// Counting stops at MaxSlots+1.
func SlotCount(totalDuration, beatLength float64) int {
	if beatLength <= 0 || math.IsNaN(beatLength) || math.IsInf(totalDuration, 0) {
		return 0
	}
	if totalDuration/beatLength > MaxSlots+1 {
		return MaxSlots + 1
	}
	n := 0
	for x := 0.0; x < totalDuration && n <= MaxSlots; x += beatLength {
		n++
		if x+beatLength == x {
			break
		}
	}
	return n
}

// gridSize returns the slot count for a song, or ErrGridTooLarge past MaxSlots
func gridSize(totalDuration, beatLength float64) (int, error) {
	n := SlotCount(totalDuration, beatLength)
	if n > MaxSlots {
		return 0, fmt.Errorf("%w: %gs at %gs per slot needs more than %d slots", ErrGridTooLarge, totalDuration, beatLength, MaxSlots)
	}
	return n, nil
}

// slot is one cell of the beat grid
type slot struct {
	name   string
	midi   int
	filled bool
}

// Quantize resolves a track's notes onto a sixteenth-note grid covering
// totalDuration and run-length encodes the result.
//
// Notes are processed in input order. A slot keeps the first note assigned to it
// unless a later note has a strictly higher MIDI number, so equal pitches resolve
// to whichever note came first. Slots outside the grid are ignored. Grids
// larger than MaxSlots are rejected with ErrGridTooLarge.
func Quantize(track Track, totalDuration, beatLength float64) (TrackOutput, error) {
	if math.IsNaN(beatLength) || math.IsInf(beatLength, 0) || beatLength <= 0 {
		return TrackOutput{}, fmt.Errorf("%w: beat length %v", ErrInvalidTempo, beatLength)
	}

	size, err := gridSize(totalDuration, beatLength)
	if err != nil {
		return TrackOutput{}, err
	}
	grid := make([]slot, size)

	for i, note := range track.Notes {
		if err := validateNote(note); err != nil {
			return TrackOutput{}, fmt.Errorf("note %d: %w", i, err)
		}

		start := slotIndex(math.Ceil(note.Time/beatLength), len(grid))
		end := slotIndex(math.Ceil((note.Time+note.Duration)/beatLength), len(grid))

		for s := start; s < end; s++ {
			if !grid[s].filled || note.Midi > grid[s].midi {
				grid[s] = slot{name: note.Name, midi: note.Midi, filled: true}
			}
		}
	}

	return TrackOutput{
		Tokens:     encodeRuns(grid),
		Instrument: track.Instrument,
	}, nil
}

// QuantizeAt derives the beat length from bpm and quantizes the track
func QuantizeAt(track Track, bpm, totalDuration float64) (TrackOutput, error) {
	beat, err := BeatLength(bpm)
	if err != nil {
		return TrackOutput{}, err
	}
	return Quantize(track, totalDuration, beat)
}

func validateNote(n Note) error {
	if n.Midi < 0 || n.Midi > 127 {
		return fmt.Errorf("%w: midi number %d out of range", ErrInvalidNote, n.Midi)
	}
	if n.Name == "" || n.Name == Rest {
		return fmt.Errorf("%w: missing pitch name for midi %d", ErrInvalidNote, n.Midi)
	}
	if math.IsNaN(n.Time) || math.IsInf(n.Time, 0) || math.IsNaN(n.Duration) || math.IsInf(n.Duration, 0) {
		return fmt.Errorf("%w: non-finite timing", ErrInvalidNote)
	}
	return nil
}

// slotIndex clamps a ceiled slot position into [0, size]
func slotIndex(pos float64, size int) int {
	if pos <= 0 {
		return 0
	}
	if pos >= float64(size) {
		return size
	}
	return int(pos)
}

// encodeRuns walks the grid in order and joins consecutive identical symbols
func encodeRuns(grid []slot) []Token {
	tokens := make([]Token, 0)
	for _, s := range grid {
		symbol := Rest
		if s.filled {
			symbol = s.name
		}
		if n := len(tokens); n > 0 && tokens[n-1].Symbol == symbol {
			tokens[n-1].Beats++
			continue
		}
		tokens = append(tokens, Token{Symbol: symbol, Beats: 1})
	}
	return tokens
}
