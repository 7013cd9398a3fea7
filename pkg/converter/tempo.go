package converter

import (
	"slices"

	"gitlab.com/gomidi/midi/v2/smf"
)

type tempoChange struct {
	tick         int64
	microsPerQtr float64
}

// tempoMap converts absolute ticks to seconds across tempo changes in any track
type tempoMap struct {
	resolution float64
	changes    []tempoChange
}

func newTempoMap(resolution float64, tracks []smf.Track) *tempoMap {
	tm := &tempoMap{resolution: resolution}

	for _, events := range tracks {
		var tick int64
		for _, ev := range events {
			tick += int64(ev.Delta)
			msg := ev.Message

			// Tempo meta message (FF 51 03 tt tt tt)
			if len(msg) >= 6 && msg[0] == 0xFF && msg[1] == 0x51 && msg[2] == 0x03 {
				microsecondsPerBeat := uint32(msg[3])<<16 | uint32(msg[4])<<8 | uint32(msg[5])
				if microsecondsPerBeat > 0 {
					tm.changes = append(tm.changes, tempoChange{tick: tick, microsPerQtr: float64(microsecondsPerBeat)})
				}
			}
		}
	}

	slices.SortStableFunc(tm.changes, func(a, b tempoChange) int {
		switch {
		case a.tick < b.tick:
			return -1
		case a.tick > b.tick:
			return 1
		}
		return 0
	})

	return tm
}

// bpm returns the first tempo of the song, or 120 when none is set
func (tm *tempoMap) bpm() float64 {
	if len(tm.changes) == 0 {
		return 60000000.0 / defaultMicrosPerQuarter
	}
	return 60000000.0 / tm.changes[0].microsPerQtr
}

// seconds returns the absolute time of tick
func (tm *tempoMap) seconds(tick int64) float64 {
	var micros float64
	var prev int64
	current := defaultMicrosPerQuarter

	for _, c := range tm.changes {
		if c.tick >= tick {
			break
		}
		micros += float64(c.tick-prev) * current / tm.resolution
		prev, current = c.tick, c.microsPerQtr
	}
	micros += float64(tick-prev) * current / tm.resolution

	return micros / 1e6
}
