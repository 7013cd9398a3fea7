// Package songs holds the ordered song list rendered into editor extensions
package songs

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/james-see/midi2makecode/pkg/converter"
)

// ErrSongNotFound is returned for IDs that are not in the list
var ErrSongNotFound = errors.New("song not found")

// List is an ordered collection of songs keyed by their TypeScript identifier.
// A List is not safe for concurrent mutation.
type List struct {
	songs []converter.Song
}

// NewList creates an empty song list
func NewList() *List {
	return &List{}
}

// Add appends a song and returns it with its assigned identifier
func (l *List) Add(title string, tracks []converter.TrackOutput) converter.Song {
	song := converter.Song{
		ID:     l.uniqueID(Identifier(title)),
		Title:  title,
		Tracks: tracks,
	}
	l.songs = append(l.songs, song)
	return song
}

// Restore appends a previously stored song, keeping its ID. A missing,
// invalid or already used ID is replaced the same way Add derives one.
func (l *List) Restore(song converter.Song) converter.Song {
	if song.ID == "" || song.ID != Identifier(song.ID) || l.index(song.ID) >= 0 {
		song.ID = l.uniqueID(Identifier(song.Title))
	}
	l.songs = append(l.songs, song)
	return song
}

// Get returns the song with the given ID
func (l *List) Get(id string) (converter.Song, error) {
	i := l.index(id)
	if i < 0 {
		return converter.Song{}, ErrSongNotFound
	}
	return l.songs[i], nil
}

// Remove deletes the song with the given ID, keeping the order of the rest
func (l *List) Remove(id string) error {
	i := l.index(id)
	if i < 0 {
		return ErrSongNotFound
	}
	l.songs = append(l.songs[:i], l.songs[i+1:]...)
	return nil
}

// Rename changes a song's title. The ID stays the same so generated code that
// refers to it keeps compiling.
func (l *List) Rename(id, title string) error {
	i := l.index(id)
	if i < 0 {
		return ErrSongNotFound
	}
	l.songs[i].Title = title
	return nil
}

// Songs returns a copy of the songs in insertion order
func (l *List) Songs() []converter.Song {
	out := make([]converter.Song, len(l.songs))
	copy(out, l.songs)
	return out
}

// Len returns the number of songs
func (l *List) Len() int {
	return len(l.songs)
}

func (l *List) index(id string) int {
	for i, s := range l.songs {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (l *List) uniqueID(base string) string {
	id := base
	for n := 2; l.index(id) >= 0; n++ {
		id = base + strconv.Itoa(n)
	}
	return id
}

// Identifier converts a title into a PascalCase TypeScript identifier.
// "my first song" becomes "MyFirstSong" and "8 bit" becomes "Song8Bit".
func Identifier(title string) string {
	var b strings.Builder
	upper := true
	for _, r := range title {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) || r > unicode.MaxASCII {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}

	id := b.String()
	if id == "" || unicode.IsDigit(rune(id[0])) {
		id = "Song" + id
	}
	return id
}
