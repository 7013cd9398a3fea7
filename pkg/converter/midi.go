package converter

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// defaultMicrosPerQuarter is the SMF default tempo (120 bpm)
const defaultMicrosPerQuarter = 500000.0

// ErrUnsupportedTimeFormat is returned for SMPTE-timed files
var ErrUnsupportedTimeFormat = errors.New("unsupported MIDI time format: only metric ticks are supported")

// MIDIConverter handles MIDI file parsing and generation
type MIDIConverter struct {
	ticksPerQuarter uint16
}

// NewMIDIConverter creates a new MIDI converter
func NewMIDIConverter() *MIDIConverter {
	return &MIDIConverter{
		ticksPerQuarter: 480,
	}
}

// ParseMIDIFile reads a MIDI file and extracts its notes
func (m *MIDIConverter) ParseMIDIFile(filename string) (*MidiData, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIDI file: %w", err)
	}
	return m.ParseMIDI(data)
}

// ParseMIDI parses MIDI data into per-track notes timed in seconds
func (m *MIDIConverter) ParseMIDI(data []byte) (md *MidiData, err error) {
	// gomidi panics on some truncated files
	defer func() {
		if r := recover(); r != nil {
			md, err = nil, fmt.Errorf("failed to parse MIDI: %v", r)
		}
	}()

	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse MIDI: %w", err)
	}

	mt, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok || mt.Resolution() == 0 {
		return nil, ErrUnsupportedTimeFormat
	}
	m.ticksPerQuarter = mt.Resolution()

	tempos := newTempoMap(float64(m.ticksPerQuarter), s.Tracks)

	md = &MidiData{
		Header: Header{
			BPM:           tempos.bpm(),
			TimeSignature: [2]int{4, 4},
			PPQ:           int(m.ticksPerQuarter),
		},
		Tracks: make([]Track, 0, len(s.Tracks)),
	}

	haveSig := false
	for i, events := range s.Tracks {
		track, sig := parseTrack(i, events, tempos)
		if sig != nil && !haveSig {
			md.Header.TimeSignature = *sig
			haveSig = true
		}
		if md.Header.Name == "" && len(track.Notes) == 0 {
			md.Header.Name = track.Name
		}
		md.Tracks = append(md.Tracks, track)
	}

	first := true
	for _, t := range md.Tracks {
		if len(t.Notes) == 0 {
			continue
		}
		if first || t.StartTime < md.StartTime {
			md.StartTime = t.StartTime
		}
		if t.Duration > md.Duration {
			md.Duration = t.Duration
		}
		first = false
	}

	return md, nil
}

type openNote struct {
	tick     int64
	velocity uint8
}

// parseTrack pairs note on/off events and collects the track's metadata
func parseTrack(id int, events smf.Track, tempos *tempoMap) (Track, *[2]int) {
	track := Track{
		ID:            id,
		Notes:         make([]Note, 0),
		ChannelNumber: -1,
	}

	var sig *[2]int
	open := make(map[uint16][]openNote)
	program := -1
	var tick int64

	closeNote := func(key uint16, offTick int64) {
		q := open[key]
		if len(q) == 0 {
			return
		}
		on := q[0]
		open[key] = q[1:]

		start := tempos.seconds(on.tick)
		track.Notes = append(track.Notes, Note{
			Name:     NoteName(int(key & 0x7F)),
			Midi:     int(key & 0x7F),
			Time:     start,
			Duration: tempos.seconds(offTick) - start,
			Velocity: float64(on.velocity) / 127,
		})
	}

	for _, ev := range events {
		tick += int64(ev.Delta)
		msg := ev.Message

		// Meta events: FF <type> <varlen> <data>
		if len(msg) >= 3 && msg[0] == 0xFF {
			switch msg[1] {
			case 0x03:
				if track.Name == "" {
					track.Name = string(metaData(msg))
				}
			case 0x58:
				if d := metaData(msg); len(d) >= 2 && sig == nil {
					sig = &[2]int{int(d[0]), 1 << d[1]}
				}
			}
			continue
		}

		if len(msg) < 2 || msg[0] < 0x80 || msg[0] >= 0xF0 {
			continue
		}

		status := msg[0] & 0xF0
		channel := msg[0] & 0x0F

		switch {
		case status == 0xC0:
			if program < 0 {
				program = int(msg[1])
			}
		// Note On (0x9n) with velocity > 0
		case status == 0x90 && len(msg) >= 3 && msg[2] > 0:
			key := uint16(channel)<<8 | uint16(msg[1]&0x7F)
			open[key] = append(open[key], openNote{tick: tick, velocity: msg[2]})
			if track.ChannelNumber < 0 {
				track.ChannelNumber = int(channel)
			}
		// Note Off (0x8n) or Note On with velocity 0
		case (status == 0x80 || status == 0x90) && len(msg) >= 3:
			closeNote(uint16(channel)<<8|uint16(msg[1]&0x7F), tick)
		}
	}

	// Notes still sounding at the end of the track end there
	keys := make([]uint16, 0, len(open))
	for k := range open {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		for len(open[k]) > 0 {
			closeNote(k, tick)
		}
	}

	slices.SortStableFunc(track.Notes, func(a, b Note) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})

	if program < 0 {
		program = 0
	}
	track.InstrumentNumber = program
	track.Instrument = InstrumentName(program)
	track.InstrumentFamily = InstrumentFamily(program)
	if track.ChannelNumber == PercussionChannel {
		track.IsPercussion = true
		track.Instrument = "drums"
		track.InstrumentFamily = "drums"
	}

	for i, n := range track.Notes {
		if i == 0 || n.Time < track.StartTime {
			track.StartTime = n.Time
		}
		if end := n.Time + n.Duration; end > track.Duration {
			track.Duration = end
		}
	}

	return track, sig
}

// metaData returns the payload of a meta message, skipping its variable-length size
func metaData(msg []byte) []byte {
	n, i := 0, 2
	for i < len(msg) {
		b := msg[i]
		i++
		n = n<<7 | int(b&0x7F)
		if b&0x80 == 0 {
			break
		}
	}
	if i+n > len(msg) {
		return msg[i:]
	}
	return msg[i : i+n]
}

// GenerateMIDI renders quantized tracks as a multi-track MIDI file, one sixteenth note per slot
func (m *MIDIConverter) GenerateMIDI(tracks []TrackOutput, bpm float64) ([]byte, error) {
	if len(tracks) == 0 {
		return nil, errors.New("no tracks to render")
	}

	if bpm <= 0 {
		bpm = 120.0
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(m.ticksPerQuarter)

	// Conductor track with tempo and 4/4 time signature
	var conductor smf.Track
	microsecondsPerBeat := uint32(60000000.0 / bpm)
	conductor.Add(0, smf.Message([]byte{
		0xFF, 0x51, 0x03,
		byte(microsecondsPerBeat >> 16),
		byte(microsecondsPerBeat >> 8),
		byte(microsecondsPerBeat),
	}))
	conductor.Add(0, smf.Message([]byte{0xFF, 0x58, 0x04, 0x04, 0x02, 0x18, 0x08}))
	conductor.Close(0)
	if err := s.Add(conductor); err != nil {
		return nil, fmt.Errorf("failed to add conductor track: %w", err)
	}

	ticksPerSlot := uint32(m.ticksPerQuarter) / StepsPerBeat

	for i, out := range tracks {
		// Skip the drum channel so melodies stay melodic
		channel := uint8(i % 15)
		if channel >= PercussionChannel {
			channel++
		}

		var track smf.Track
		if program, ok := programNumber(out.Instrument); ok {
			track.Add(0, midi.ProgramChange(channel, uint8(program)))
		}

		var delta uint32
		for _, tok := range out.Tokens {
			length := uint32(tok.Beats) * ticksPerSlot
			if tok.IsRest() {
				delta += length
				continue
			}

			key, err := ParseNoteName(tok.Symbol)
			if err != nil {
				return nil, fmt.Errorf("track %d: %w", i, err)
			}

			track.Add(delta, midi.NoteOn(channel, uint8(key), 100))
			track.Add(length, midi.NoteOff(channel, uint8(key)))
			delta = 0
		}
		track.Close(delta)

		if err := s.Add(track); err != nil {
			return nil, fmt.Errorf("failed to add track: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write MIDI: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteMIDIFile writes a rendered MIDI file
func (m *MIDIConverter) WriteMIDIFile(tracks []TrackOutput, bpm float64, filename string) error {
	data, err := m.GenerateMIDI(tracks, bpm)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

func programNumber(instrument string) (int, bool) {
	for i, name := range instrumentNames {
		if name == instrument {
			return i, true
		}
	}
	return 0, false
}
