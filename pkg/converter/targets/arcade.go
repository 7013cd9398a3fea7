package targets

import (
	"strings"

	"github.com/james-see/midi2makecode/pkg/converter"
)

// Arcade emits music.Melody objects that can be mixed and played together
type Arcade struct{}

// NewArcade creates a new Arcade emitter
func NewArcade() *Arcade {
	return &Arcade{}
}

// Name returns the target name
func (a *Arcade) Name() string {
	return "MakeCode Arcade"
}

// ID returns the target ID
func (a *Arcade) ID() converter.TargetID {
	return converter.TargetArcade
}

// Extension returns the generated file extension
func (a *Arcade) Extension() string {
	return ".ts"
}

// EmitSnippet writes a track array and a runner that plays every track.
// The array opener ends in a four space indent, so the first melody line is
// indented twice; the layout must stay byte for byte stable.
func (a *Arcade) EmitSnippet(tracks []converter.TrackOutput, format converter.TokenFormat) string {
	var s strings.Builder
	s.WriteString("let tracks = [\n    ")
	for _, track := range tracks {
		s.WriteString("    new music.Melody(" + melodyString(track, format) + "),\n")
	}
	s.WriteString(`];

function runMusic() {
    tracks.forEach(t => t.playUntilDone());
}

runMusic();`)
	return s.String()
}

// EmitExtension writes a song list of mixed melodies with a stop block
func (a *Arcade) EmitExtension(songs []converter.Song, format converter.TokenFormat) string {
	return extensionHeader(songs) + `
        tracks: Melody[];

        constructor(tracks: Melody[]) {
            this.tracks = tracks;
        }

        play() {
            this.tracks.forEach(t => t.play());
        }

        playTrack(track: number) {
            if (track >= 0 && track < this.tracks.length)
                this.tracks[track].play();
        }

        stop() {
            this.tracks.forEach(t => t.stop());
        }
    }
` + extensionFunctions() + `

    /**
    * Stops the given song
    */
    //% weight=95
    //% blockId="miditonestopsong" block="stop midi song %id"
    export function stopSong(id: SongList) {
        if (songs[id]) songs[id].stop();
    }` + extensionSongs(songs, format, func(t converter.TrackOutput) string {
		return "new Melody(" + melodyString(t, format) + "),"
	})
}
