package converter

import (
	"fmt"
	"strconv"
	"strings"
)

var pitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// flats maps flat spellings to their sharp equivalents
var flats = map[string]string{
	"Db": "C#", "Eb": "D#", "Gb": "F#", "Ab": "G#", "Bb": "A#",
}

// NoteName returns the scientific pitch name of a MIDI note number (60 -> "C4")
func NoteName(midi int) string {
	return pitchClasses[midi%12] + strconv.Itoa(midi/12-1)
}

// ParseNoteName returns the MIDI note number for a pitch name such as "C4", "F#3" or "Bb2"
func ParseNoteName(name string) (int, error) {
	if len(name) < 2 {
		return 0, fmt.Errorf("invalid note name %q", name)
	}

	split := 1
	if len(name) > 2 && (name[1] == '#' || name[1] == 'b') {
		split = 2
	}
	class := strings.ToUpper(name[:1]) + name[1:split]
	if sharp, ok := flats[class]; ok {
		class = sharp
	}

	pc := -1
	for i, c := range pitchClasses {
		if c == class {
			pc = i
			break
		}
	}
	if pc < 0 {
		return 0, fmt.Errorf("invalid note name %q", name)
	}

	octave, err := strconv.Atoi(name[split:])
	if err != nil {
		return 0, fmt.Errorf("invalid octave in note name %q: %w", name, err)
	}

	midi := (octave+1)*12 + pc
	if midi < 0 || midi > 127 {
		return 0, fmt.Errorf("note %q out of MIDI range", name)
	}
	return midi, nil
}
