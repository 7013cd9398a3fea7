package targets

import (
	"strings"

	"github.com/james-see/midi2makecode/pkg/converter"
)

// Adafruit emits melodies as space separated strings for music.playSoundUntilDone
type Adafruit struct{}

// NewAdafruit creates a new Adafruit emitter
func NewAdafruit() *Adafruit {
	return &Adafruit{}
}

// Name returns the target name
func (a *Adafruit) Name() string {
	return "Adafruit Circuit Playground Express"
}

// ID returns the target ID
func (a *Adafruit) ID() converter.TargetID {
	return converter.TargetAdafruit
}

// Extension returns the generated file extension
func (a *Adafruit) Extension() string {
	return ".ts"
}

// EmitSnippet writes one playSoundUntilDone call per track
func (a *Adafruit) EmitSnippet(tracks []converter.TrackOutput, format converter.TokenFormat) string {
	var s strings.Builder
	for _, track := range tracks {
		s.WriteString("//Instrument: " + comment(track.Instrument) + "\n")
		s.WriteString("music.playSoundUntilDone(" + melodyString(track, format) + ");\n")
	}
	return s.String()
}

// EmitExtension writes a song list whose tracks are melody strings
func (a *Adafruit) EmitExtension(songs []converter.Song, format converter.TokenFormat) string {
	return extensionHeader(songs) + `
        tracks: string[];
        private main: number;

        constructor(tracks: string[]) {
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
                music.playSoundUntilDone(this.tracks[index]);
        }
    }
` + extensionFunctions() + extensionSongs(songs, format, func(t converter.TrackOutput) string {
		return melodyString(t, format) + ","
	})
}

func melodyString(track converter.TrackOutput, format converter.TokenFormat) string {
	return "'" + strings.Join(track.Notes(format), " ") + "'"
}
