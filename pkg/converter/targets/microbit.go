package targets

import (
	"strings"

	"github.com/james-see/midi2makecode/pkg/converter"
)

// Microbit emits melodies as note arrays for music.beginMelody
type Microbit struct{}

// NewMicrobit creates a new micro:bit emitter
func NewMicrobit() *Microbit {
	return &Microbit{}
}

// Name returns the target name
func (m *Microbit) Name() string {
	return "BBC micro:bit"
}

// ID returns the target ID
func (m *Microbit) ID() converter.TargetID {
	return converter.TargetMicrobit
}

// Extension returns the generated file extension
func (m *Microbit) Extension() string {
	return ".ts"
}

// EmitSnippet writes one beginMelody call per track
func (m *Microbit) EmitSnippet(tracks []converter.TrackOutput, format converter.TokenFormat) string {
	var s strings.Builder
	for _, track := range tracks {
		s.WriteString("//Instrument: " + comment(track.Instrument) + "\n")
		s.WriteString("music.beginMelody(" + melodyArray(track, format) + ");\n")
	}
	return s.String()
}

// EmitExtension writes a song list whose tracks are note arrays
func (m *Microbit) EmitExtension(songs []converter.Song, format converter.TokenFormat) string {
	return extensionHeader(songs) + `
        tracks: string[][];
        private main: number;

        constructor(tracks: string[][]) {
            this.tracks = tracks;
            this.main = 0;
            for (let i = 0; i < this.tracks.length; i++) {
                if (this.tracks[this.main].length < this.tracks[i].length) {
                    this.main = i;
                }
            }
        }

        play() {
            this.playTrack(this.main);
        }

        playTrack(index: number) {
            if (index >= 0 && index < this.tracks.length)
                music.beginMelody(this.tracks[index], MelodyOptions.Once);
        }
    }
` + extensionFunctions() + extensionSongs(songs, format, func(t converter.TrackOutput) string {
		return melodyArray(t, format) + ","
	})
}

func melodyArray(track converter.TrackOutput, format converter.TokenFormat) string {
	return "['" + strings.Join(track.Notes(format), "', '") + "']"
}
