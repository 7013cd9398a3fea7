package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-see/midi2makecode/pkg/config"
	"github.com/james-see/midi2makecode/pkg/converter"
	"github.com/james-see/midi2makecode/pkg/host"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:    "test",
		Port:           "0",
		DefaultTarget:  "microbit",
		TokenFormat:    "legacy",
		LogLevel:       "error",
		HostTimeout:    2 * time.Second,
		MaxUploadBytes: 1 << 20,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(testConfig(), nil)
	require.NoError(t, err)
	return s
}

// songJSON is a one-track song: a flute playing C4 for half a second at 120 bpm
func songJSON(t *testing.T) []byte {
	t.Helper()
	data, err := converter.MarshalSong(&converter.MidiData{
		Header:   converter.Header{Name: "theme", BPM: 120, TimeSignature: [2]int{4, 4}, PPQ: 480},
		Duration: 0.5,
		Tracks: []converter.Track{
			{Instrument: "flute", Notes: []converter.Note{{Name: "C4", Midi: 60, Time: 0, Duration: 0.5}}},
			{Instrument: "cello"},
		},
	})
	require.NoError(t, err)
	return data
}

type upload struct {
	name string
	data []byte
}

func multipartBody(t *testing.T, files []upload, titles ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := w.CreateFormFile("file", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for _, title := range titles {
		require.NoError(t, w.WriteField("title", title))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postFile(t *testing.T, s *Server, path string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, []upload{{"theme.mid", data}})
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"healthy","service":"midi2makecode"}`, w.Body.String())
		assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	}
}

func TestRequestIDPropagates(t *testing.T) {
	s := newTestServer(t)
	id := "0b6f1c3e-5d1b-4a9e-8f1e-2d7c9a4b6e10"

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, id)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, id, w.Header().Get(requestIDHeader))
}

func TestNewServerRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.TokenFormat = "sometimes"
	_, err := NewServer(cfg, nil)
	assert.ErrorIs(t, err, converter.ErrUnknownTokenFormat)

	cfg = testConfig()
	cfg.DefaultTarget = "gameboy"
	_, err = NewServer(cfg, nil)
	assert.Error(t, err)
}

func TestListTargets(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/targets", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Targets []struct {
			ID        string `json:"id"`
			Extension string `json:"extension"`
		} `json:"targets"`
		Formats []string `json:"formats"`
		Default string   `json:"default"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Targets, 4)
	assert.Equal(t, "microbit", resp.Targets[0].ID)
	assert.Equal(t, []string{"legacy", "span"}, resp.Formats)
	assert.Equal(t, "microbit", resp.Default)
}

func TestConvert(t *testing.T) {
	s := newTestServer(t)

	w := postFile(t, s, "/api/v1/convert/microbit", songJSON(t))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "//Instrument: flute\nmusic.beginMelody(['C4:3']);\n", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "theme.ts")

	w = postFile(t, s, "/api/v1/convert/cpx?format=span", songJSON(t))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "//Instrument: flute\nmusic.playSoundUntilDone('C4:4');\n", w.Body.String())
}

func TestConvertErrors(t *testing.T) {
	s := newTestServer(t)

	w := postFile(t, s, "/api/v1/convert/gameboy", songJSON(t))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postFile(t, s, "/api/v1/convert/arcade?format=beats", songJSON(t))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postFile(t, s, "/api/v1/convert/arcade", []byte("not a song"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "request_id")

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/convert/arcade", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"No file uploaded"}`, w.Body.String())
}

func TestQuantize(t *testing.T) {
	s := newTestServer(t)

	w := postFile(t, s, "/api/v1/quantize?format=span", songJSON(t))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		BPM    float64 `json:"bpm"`
		Format string  `json:"format"`
		Tracks []struct {
			Instrument string            `json:"instrument"`
			Tokens     []converter.Token `json:"tokens"`
			Notes      []string          `json:"notes"`
		} `json:"tracks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 120.0, resp.BPM)
	assert.Equal(t, "span", resp.Format)
	require.Len(t, resp.Tracks, 1, "silent track should be dropped")
	assert.Equal(t, "flute", resp.Tracks[0].Instrument)
	assert.Equal(t, []converter.Token{{Symbol: "C4", Beats: 4}}, resp.Tracks[0].Tokens)
	assert.Equal(t, []string{"C4:4"}, resp.Tracks[0].Notes)
}

func TestJSONPassthrough(t *testing.T) {
	s := newTestServer(t)

	w := postFile(t, s, "/api/v1/json", songJSON(t))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var md converter.MidiData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &md))
	assert.Equal(t, "theme", md.Header.Name)
	assert.Len(t, md.Tracks, 2)
}

func TestPreview(t *testing.T) {
	s := newTestServer(t)

	w := postFile(t, s, "/api/v1/preview", songJSON(t))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "audio/midi", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("MThd")))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "theme.preview.mid")
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/convert/microbit", nil)
	req.Header.Set("Origin", "https://makecode.microbit.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownSession(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/extension/nope/songs", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// fakeEditor answers every host request on conn and reports written code.
// stored is the song list JSON returned for extreadcode.
func fakeEditor(t *testing.T, conn *websocket.Conn, stored string) <-chan host.CodeBody {
	written := make(chan host.CodeBody, 4)
	go func() {
		defer close(written)
		for {
			var msg host.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.ID == "" {
				continue
			}

			resp := host.Message{Type: host.MessageType, ID: msg.ID}
			switch msg.Action {
			case host.ActionWriteCode:
				raw, _ := json.Marshal(msg.Body)
				var body host.CodeBody
				_ = json.Unmarshal(raw, &body)
				written <- body
			case host.ActionReadCode:
				resp.Resp, _ = json.Marshal(host.CodeBody{JSON: stored})
			case host.ActionUserCode:
				resp.Resp = json.RawMessage(`{"main.ts":"music.playSong(SongList.Intro)"}`)
			case host.ActionQueryPermission, host.ActionRequestPermission:
				resp.Resp = json.RawMessage(`{"serial":"granted"}`)
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}()
	return written
}

func TestExtensionSession(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/extension/ws?target=arcade"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame sessionFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "session", frame.Type)
	assert.Equal(t, "arcade", frame.Target)
	require.NotEmpty(t, frame.Session)

	written := fakeEditor(t, conn, "")
	songsURL := srv.URL + "/api/v1/extension/" + frame.Session + "/songs"

	body, contentType := multipartBody(t, []upload{{"theme.mid", songJSON(t)}, {"intro.json", songJSON(t)}}, "Main Theme")
	resp, err := http.Post(songsURL, contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var added struct {
		Songs []songSummary `json:"songs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&added))
	assert.Equal(t, []songSummary{{ID: "MainTheme", Title: "Main Theme", Tracks: 1}, {ID: "Intro", Title: "intro", Tracks: 1}}, added.Songs)

	code := <-written
	assert.Contains(t, code.Code, "enum SongList {")
	assert.Contains(t, code.Code, "songs[SongList.MainTheme] = new Song([\n        new Melody('C4:3'),\n    ]);")
	var stored []converter.Song
	require.NoError(t, json.Unmarshal([]byte(code.JSON), &stored))
	assert.Len(t, stored, 2)

	req, err := http.NewRequest(http.MethodDelete, songsURL+"/MainTheme", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	code = <-written
	assert.NotContains(t, code.Code, "MainTheme")
	assert.Contains(t, code.Code, "Intro")

	list, err := http.Get(songsURL)
	require.NoError(t, err)
	defer list.Body.Close()
	var listed struct {
		Songs []songSummary `json:"songs"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&listed))
	assert.Equal(t, []songSummary{{ID: "Intro", Title: "intro", Tracks: 1}}, listed.Songs)

	req, err = http.NewRequest(http.MethodPatch, songsURL+"/Intro", strings.NewReader(`{"title":"Opening"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	renamed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer renamed.Body.Close()
	require.Equal(t, http.StatusOK, renamed.StatusCode)

	var summary songSummary
	require.NoError(t, json.NewDecoder(renamed.Body).Decode(&summary))
	assert.Equal(t, songSummary{ID: "Intro", Title: "Opening", Tracks: 1}, summary)

	code = <-written
	assert.Contains(t, code.Code, "//% block=\"Opening\"\n    Intro,\n")

	req, err = http.NewRequest(http.MethodPatch, songsURL+"/Missing", strings.NewReader(`{"title":"x"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	missing, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestExtensionSessionRelaysHostRequests(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/extension/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame sessionFrame
	require.NoError(t, conn.ReadJSON(&frame))
	fakeEditor(t, conn, "")
	base := srv.URL + "/api/v1/extension/" + frame.Session

	project, err := http.Get(base + "/project")
	require.NoError(t, err)
	defer project.Body.Close()
	require.Equal(t, http.StatusOK, project.StatusCode)
	var files struct {
		Resp map[string]string `json:"resp"`
	}
	require.NoError(t, json.NewDecoder(project.Body).Decode(&files))
	assert.Contains(t, files.Resp, "main.ts")

	query, err := http.Get(base + "/permission")
	require.NoError(t, err)
	defer query.Body.Close()
	require.Equal(t, http.StatusOK, query.StatusCode)

	granted, err := http.Post(base+"/permission", "application/json", strings.NewReader(`{"serial":true}`))
	require.NoError(t, err)
	defer granted.Body.Close()
	require.Equal(t, http.StatusOK, granted.StatusCode)
	var perm struct {
		Resp map[string]string `json:"resp"`
	}
	require.NoError(t, json.NewDecoder(granted.Body).Decode(&perm))
	assert.Equal(t, "granted", perm.Resp["serial"])

	stream, err := http.Post(base+"/stream", "application/json", strings.NewReader(`{"serial":true}`))
	require.NoError(t, err)
	stream.Body.Close()
	assert.Equal(t, http.StatusNoContent, stream.StatusCode)

	bad, err := http.Post(base+"/stream", "application/json", strings.NewReader(`{"serial":`))
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestExtensionSessionRestoresStoredIDs(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/extension/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame sessionFrame
	require.NoError(t, conn.ReadJSON(&frame))

	stored, err := json.Marshal([]converter.Song{
		{ID: "Intro", Title: "Opening", Tracks: []converter.TrackOutput{{Tokens: []converter.Token{{Symbol: "C4", Beats: 4}}}}},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(host.Message{Type: host.MessageType, Event: host.EventLoaded}))
	fakeEditor(t, conn, string(stored))

	songsURL := srv.URL + "/api/v1/extension/" + frame.Session + "/songs"
	var listed struct {
		Songs []songSummary `json:"songs"`
	}
	require.Eventually(t, func() bool {
		resp, err := http.Get(songsURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if json.NewDecoder(resp.Body).Decode(&listed) != nil {
			return false
		}
		return len(listed.Songs) > 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []songSummary{{ID: "Intro", Title: "Opening", Tracks: 1}}, listed.Songs)
}

func TestConvertGridTooLarge(t *testing.T) {
	s := newTestServer(t)

	huge := []byte(`{"header":{"bpm":6000000},"duration":100,"tracks":[{"notes":[]}]}`)
	for _, path := range []string{"/api/v1/convert/microbit", "/api/v1/quantize", "/api/v1/preview"} {
		w := postFile(t, s, path, huge)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, path)
		assert.Contains(t, w.Body.String(), "grid too large", path)
	}
}

func TestConvertReportsSkippedTracks(t *testing.T) {
	s := newTestServer(t)

	data, err := converter.MarshalSong(&converter.MidiData{
		Header:   converter.Header{BPM: 120},
		Duration: 0.5,
		Tracks: []converter.Track{
			{Instrument: "flute", Notes: []converter.Note{{Name: "C4", Midi: 60, Time: 0, Duration: 0.5}}},
			{Instrument: "broken", Notes: []converter.Note{{Name: "X", Midi: 200, Duration: 0.1}}},
		},
	})
	require.NoError(t, err)

	w := postFile(t, s, "/api/v1/convert/microbit", data)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-Skipped-Tracks"))
	assert.Equal(t, "//Instrument: flute\nmusic.beginMelody(['C4:3']);\n", w.Body.String())

	w = postFile(t, s, "/api/v1/quantize", data)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "track 1")
}

func TestFilterSensitiveHeaders(t *testing.T) {
	got := filterSensitiveHeaders(map[string]string{
		"Authorization": "Bearer secret",
		"Content-Type":  "audio/midi",
	})
	assert.Equal(t, map[string]string{
		"Authorization": "[REDACTED]",
		"Content-Type":  "audio/midi",
	}, got)
}

func TestInitSentryDisabled(t *testing.T) {
	flush, err := InitSentry(testConfig(), "test")
	require.NoError(t, err)
	flush()
}
