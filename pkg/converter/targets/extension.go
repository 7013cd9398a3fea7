package targets

import (
	"strings"

	"github.com/james-see/midi2makecode/pkg/converter"
)

const (
	generatedHeader = "// Auto-generated. Do not edit."
	generatedFooter = "// Auto-generated. Do not edit. Really."
)

// extensionHeader opens the song enum and the music namespace up to the Song class body
func extensionHeader(songs []converter.Song) string {
	var s strings.Builder

	s.WriteString(generatedHeader)
	s.WriteString("\nenum SongList {\n")
	for _, song := range songs {
		s.WriteString("    //% block=\"" + blockLabel(song.Title) + "\"\n")
		s.WriteString("    " + song.ID + ",\n")
	}
	s.WriteString("}\n\nnamespace music {\n    class Song {")

	return s.String()
}

// extensionFunctions declares the song table and the blocks shared by every target
func extensionFunctions() string {
	return `
    let songs: Song[] = [];

    /**
     * Play the given song
     */
    //% weight=100
    //% blockId="miditoneplaysong" block="play midi song %id"
    export function playSong(id: SongList) {
        if (songs[id]) songs[id].play();
    }

    /**
     * Play the given track of the given song
     */
    //% weight=99
    //% blockId="miditoneplaysongtrack" block="play midi song %id track number %track"
    export function playSongTrack(id: SongList, track: number) {
        if (songs[id]) songs[id].playTrack(track);
    }`
}

// extensionSongs fills the song table and closes the namespace
func extensionSongs(songs []converter.Song, format converter.TokenFormat, trackFormat func(converter.TrackOutput) string) string {
	var s strings.Builder

	s.WriteString("\n")
	for _, song := range songs {
		s.WriteString("\n    songs[SongList." + song.ID + "] = new Song([")
		for _, track := range song.Tracks {
			if track.IsSilent(format) {
				continue
			}
			s.WriteString("\n        " + trackFormat(track))
		}
		s.WriteString("\n    ]);")
	}
	s.WriteString("\n}\n" + generatedFooter)

	return s.String()
}

// blockLabel makes a song title safe inside a block annotation
func blockLabel(title string) string {
	r := strings.NewReplacer(`"`, `'`, "\n", " ", "\r", " ")
	return r.Replace(title)
}

// comment makes text safe inside a line comment
func comment(text string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(text)
}
