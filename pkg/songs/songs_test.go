package songs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-see/midi2makecode/pkg/converter"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"my first song", "MyFirstSong"},
		{"Intro", "Intro"},
		{"8 bit", "Song8Bit"},
		{"hello-world_v2", "HelloWorldV2"},
		{"", "Song"},
		{"!!!", "Song"},
		{"café", "Caf"},
		{"iPhone ringtone", "IPhoneRingtone"},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, Identifier(tt.title))
		})
	}
}

func TestListAdd(t *testing.T) {
	l := NewList()
	tracks := []converter.TrackOutput{{Tokens: []converter.Token{{Symbol: "C4", Beats: 2}}}}

	first := l.Add("Theme", tracks)
	second := l.Add("theme", nil)
	third := l.Add("Theme", nil)

	assert.Equal(t, "Theme", first.ID)
	assert.Equal(t, "Theme2", second.ID)
	assert.Equal(t, "Theme3", third.ID)
	assert.Equal(t, "theme", second.Title)
	assert.Equal(t, 3, l.Len())

	got, err := l.Get("Theme")
	require.NoError(t, err)
	assert.Equal(t, tracks, got.Tracks)
}

func TestListRemoveKeepsOrder(t *testing.T) {
	l := NewList()
	l.Add("a", nil)
	l.Add("b", nil)
	l.Add("c", nil)

	require.NoError(t, l.Remove("B"))
	assert.ErrorIs(t, l.Remove("B"), ErrSongNotFound)

	var ids []string
	for _, s := range l.Songs() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"A", "C"}, ids)

	// IDs freed by Remove can be reused
	assert.Equal(t, "B", l.Add("b", nil).ID)
}

func TestListRename(t *testing.T) {
	l := NewList()
	l.Add("Old Name", nil)

	require.NoError(t, l.Rename("OldName", "New Name"))
	song, err := l.Get("OldName")
	require.NoError(t, err)
	assert.Equal(t, "New Name", song.Title)

	assert.ErrorIs(t, l.Rename("Missing", "x"), ErrSongNotFound)
	_, err = l.Get("Missing")
	assert.ErrorIs(t, err, ErrSongNotFound)
}

func TestSongsReturnsCopy(t *testing.T) {
	l := NewList()
	l.Add("One", nil)

	songs := l.Songs()
	songs[0].Title = "changed"

	song, err := l.Get("One")
	require.NoError(t, err)
	assert.Equal(t, "One", song.Title)
}

func TestListRestoreKeepsStoredIDs(t *testing.T) {
	l := NewList()

	kept := l.Restore(converter.Song{ID: "Intro", Title: "Opening"})
	assert.Equal(t, "Intro", kept.ID)

	// A renamed song keeps its ID, so a later Add of the new title must not collide
	added := l.Add("Intro", nil)
	assert.Equal(t, "Intro2", added.ID)

	tests := []struct {
		name string
		song converter.Song
		want string
	}{
		{"duplicate ID", converter.Song{ID: "Intro", Title: "Outro"}, "Outro"},
		{"missing ID", converter.Song{Title: "boss fight"}, "BossFight"},
		{"invalid ID", converter.Song{ID: "not an id", Title: "Credits"}, "Credits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, l.Restore(tt.song).ID)
		})
	}

	song, err := l.Get("Intro")
	require.NoError(t, err)
	assert.Equal(t, "Opening", song.Title)
	assert.Equal(t, 5, l.Len())
}
