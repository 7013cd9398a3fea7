package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/james-see/midi2makecode/pkg/converter"
	"github.com/james-see/midi2makecode/pkg/host"
	"github.com/james-see/midi2makecode/pkg/songs"
)

// ErrSessionNotFound is returned for unknown extension sessions
var ErrSessionNotFound = errors.New("extension session not found")

// sessionFrame is the first message on a new socket, telling the page its session ID
type sessionFrame struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Target  string `json:"target"`
}

// session is one editor connected through the extension page
type session struct {
	id     string
	conn   *websocket.Conn
	client *host.Client
	conv   *converter.Converter
	log    *zap.Logger

	writeMu sync.Mutex

	mu    sync.Mutex
	songs *songs.List
}

func (s *session) send(ctx context.Context, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(host.DefaultTimeout)
	}
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteJSON(v)
}

// render writes the song list into the editor project as generated code plus its JSON source
func (s *session) render(ctx context.Context) error {
	s.mu.Lock()
	list := s.songs.Songs()
	s.mu.Unlock()

	if len(list) == 0 {
		return s.client.Write(ctx, "", "[]")
	}

	code, err := s.conv.ConvertSongs(list)
	if err != nil {
		return err
	}
	source, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return s.client.Write(ctx, code, string(source))
}

// restore loads the song list the extension previously stored in the project
func (s *session) restore(ctx context.Context) {
	body, err := s.client.Read(ctx)
	if err != nil {
		s.log.Debug("failed to read extension code", zap.String("session", s.id), zap.Error(err))
		return
	}
	if body.JSON == "" {
		return
	}

	var stored []converter.Song
	if err := json.Unmarshal([]byte(body.JSON), &stored); err != nil {
		s.log.Warn("ignoring stored song list", zap.String("session", s.id), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.songs.Len() > 0 {
		return
	}
	for _, song := range stored {
		s.songs.Restore(song)
	}
	s.log.Info("restored songs", zap.String("session", s.id), zap.Int("songs", len(stored)))
}

type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*session)}
}

func (r *sessionRegistry) add(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

func (r *sessionRegistry) get(id string) (*session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *sessionRegistry) closeAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		_ = s.conn.Close()
	}
}

// handleExtensionSocket godoc
// @Summary Editor extension bridge
// @Description Websocket relaying pxtpkgext messages between the editor and the server
// @Tags extension
// @Param target query string false "Target of the hosting editor"
// @Param extId query string false "Extension ID assigned by the editor"
// @Router /api/v1/extension/ws [get]
func (s *Server) handleExtensionSocket(c *gin.Context) {
	conv, ok := s.converterFor(c, c.Query("target"))
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := &session{
		id:    uuid.NewString(),
		conn:  conn,
		conv:  conv,
		songs: songs.NewList(),
	}
	sess.log = s.log.With(zap.String("session", sess.id))
	sess.client = host.NewClient(
		host.TransportFunc(func(ctx context.Context, msg host.Message) error {
			return sess.send(ctx, msg)
		}),
		host.WithTimeout(s.cfg.HostTimeout),
		host.WithLogger(sess.log),
		host.WithExtensionID(c.Query("extId")),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listeners run on the read loop, so anything waiting on a response must not block it
	reload := func(msg host.Message) {
		sess.log.Debug("editor event", zap.String("event", string(msg.Event)), zap.String("target", msg.Target))
		go sess.restore(ctx)
	}
	sess.client.On(host.EventLoaded, reload)
	sess.client.On(host.EventShown, reload)
	sess.client.On(host.EventHidden, func(host.Message) {
		sess.log.Debug("extension hidden")
	})

	s.sessions.add(sess)
	defer func() {
		s.sessions.remove(sess.id)
		_ = conn.Close()
		sess.log.Info("extension disconnected")
	}()

	if err := sess.send(ctx, sessionFrame{Type: "session", Session: sess.id, Target: string(conv.GetTarget().ID())}); err != nil {
		sess.log.Warn("failed to greet extension", zap.Error(err))
		return
	}
	sess.log.Info("extension connected", zap.String("target", string(conv.GetTarget().ID())))

	go func() {
		if _, err := sess.client.Init(ctx); err != nil {
			sess.log.Debug("extension init failed", zap.Error(err))
		}
	}()

	for {
		var msg host.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.log.Debug("extension read failed", zap.Error(err))
			}
			return
		}
		if err := sess.client.Dispatch(msg); err != nil {
			sess.log.Warn("dropping host message", zap.Error(err))
		}
	}
}

func (s *Server) sessionFor(c *gin.Context) (*session, bool) {
	sess, err := s.sessions.get(c.Param("session"))
	if err != nil {
		s.fail(c, http.StatusNotFound, err)
		return nil, false
	}
	return sess, true
}

type songSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Tracks int    `json:"tracks"`
}

func summarize(list []converter.Song) []songSummary {
	out := make([]songSummary, 0, len(list))
	for _, song := range list {
		out = append(out, songSummary{ID: song.ID, Title: song.Title, Tracks: len(song.Tracks)})
	}
	return out
}

// listSessionSongs godoc
// @Summary List the songs of an extension session
// @Tags extension
// @Produce json
// @Param session path string true "Session ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /api/v1/extension/{session}/songs [get]
func (s *Server) listSessionSongs(c *gin.Context) {
	sess, ok := s.sessionFor(c)
	if !ok {
		return
	}

	sess.mu.Lock()
	list := sess.songs.Songs()
	sess.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"songs": summarize(list)})
}

// addSessionSongs godoc
// @Summary Add songs to an extension session
// @Description Upload one or more MIDI files; the song list is regenerated and written into the editor project
// @Tags extension
// @Accept multipart/form-data
// @Produce json
// @Param session path string true "Session ID"
// @Param file formData file true "MIDI files"
// @Param title formData string false "Song titles, in file order"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Failure 504 {object} map[string]string
// @Router /api/v1/extension/{session}/songs [post]
func (s *Server) addSessionSongs(c *gin.Context) {
	sess, ok := s.sessionFor(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil || len(form.File["file"]) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	titles := form.Value["title"]

	type loaded struct {
		title  string
		tracks []converter.TrackOutput
	}
	var batch []loaded
	for i, fh := range form.File["file"] {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
			return
		}

		md, err := converter.LoadSong(data)
		if err != nil {
			s.fail(c, http.StatusUnprocessableEntity, err)
			return
		}
		tracks, err := sess.conv.QuantizeSong(md)
		if err != nil && tracks == nil {
			s.fail(c, http.StatusUnprocessableEntity, err)
			return
		}

		title := strings.TrimSuffix(fh.Filename, filepath.Ext(fh.Filename))
		if i < len(titles) && strings.TrimSpace(titles[i]) != "" {
			title = strings.TrimSpace(titles[i])
		}
		batch = append(batch, loaded{title: title, tracks: tracks})
	}

	added := make([]converter.Song, 0, len(batch))
	sess.mu.Lock()
	for _, b := range batch {
		added = append(added, sess.songs.Add(b.title, b.tracks))
	}
	sess.mu.Unlock()

	if !s.writeSession(c, sess) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"songs": summarize(added)})
}

// removeSessionSong godoc
// @Summary Remove a song from an extension session
// @Tags extension
// @Param session path string true "Session ID"
// @Param id path string true "Song ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /api/v1/extension/{session}/songs/{id} [delete]
func (s *Server) removeSessionSong(c *gin.Context) {
	sess, ok := s.sessionFor(c)
	if !ok {
		return
	}

	sess.mu.Lock()
	err := sess.songs.Remove(c.Param("id"))
	sess.mu.Unlock()
	if err != nil {
		s.fail(c, http.StatusNotFound, err)
		return
	}

	if !s.writeSession(c, sess) {
		return
	}
	c.Status(http.StatusNoContent)
}

type renameRequest struct {
	Title string `json:"title" binding:"required"`
}

// renameSessionSong godoc
// @Summary Rename a song in an extension session
// @Description Changes the block label of a song. The song ID, and so the generated enum member, stays the same.
// @Tags extension
// @Accept json
// @Produce json
// @Param session path string true "Session ID"
// @Param id path string true "Song ID"
// @Param body body renameRequest true "New title"
// @Success 200 {object} songSummary
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/extension/{session}/songs/{id} [patch]
func (s *Server) renameSessionSong(c *gin.Context) {
	sess, ok := s.sessionFor(c)
	if !ok {
		return
	}

	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	id := c.Param("id")
	sess.mu.Lock()
	err := sess.songs.Rename(id, strings.TrimSpace(req.Title))
	song, _ := sess.songs.Get(id)
	sess.mu.Unlock()
	if err != nil {
		s.fail(c, http.StatusNotFound, err)
		return
	}

	if !s.writeSession(c, sess) {
		return
	}
	c.JSON(http.StatusOK, summarize([]converter.Song{song})[0])
}

// readSessionProject godoc
// @Summary Read the user's project files
// @Description Asks the editor for the files of the project hosting the extension
// @Tags extension
// @Produce json
// @Param session path string true "Session ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Failure 504 {object} map[string]string
// @Router /api/v1/extension/{session}/project [get]
func (s *Server) readSessionProject(c *gin.Context) {
	sess, ok := s.sessionFor(c)
	if !ok {
		return
	}
	s.relay(c, func(ctx context.Context) (json.RawMessage, error) {
		return sess.client.ReadUser(ctx)
	})
}

type permissionRequest struct {
	Serial bool `json:"serial"`
}

// querySessionPermission godoc
// @Summary Query the extension's device permissions
// @Tags extension
// @Produce json
// @Param session path string true "Session ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /api/v1/extension/{session}/permission [get]
func (s *Server) querySessionPermission(c *gin.Context) {
	sess, ok := s.sessionFor(c)
	if !ok {
		return
	}
	s.relay(c, func(ctx context.Context) (json.RawMessage, error) {
		return sess.client.QueryPermission(ctx)
	})
}

// requestSessionPermission godoc
// @Summary Ask the user for device permissions
// @Tags extension
// @Accept json
// @Produce json
// @Param session path string true "Session ID"
// @Param body body permissionRequest false "Permissions to request"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /api/v1/extension/{session}/permission [post]
func (s *Server) requestSessionPermission(c *gin.Context) {
	sess, ok := s.sessionFor(c)
	if !ok {
		return
	}
	req, ok := bindPermission(c)
	if !ok {
		return
	}
	s.relay(c, func(ctx context.Context) (json.RawMessage, error) {
		return sess.client.RequestPermission(ctx, req.Serial)
	})
}

// setSessionStream godoc
// @Summary Turn the editor's serial data stream on or off
// @Tags extension
// @Accept json
// @Param session path string true "Session ID"
// @Param body body permissionRequest false "Streams to enable"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /api/v1/extension/{session}/stream [post]
func (s *Server) setSessionStream(c *gin.Context) {
	sess, ok := s.sessionFor(c)
	if !ok {
		return
	}
	req, ok := bindPermission(c)
	if !ok {
		return
	}
	if err := sess.client.DataStream(c.Request.Context(), req.Serial); err != nil {
		s.failHost(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bindPermission reads an optional permission body; an empty body means no serial
func bindPermission(c *gin.Context) (permissionRequest, bool) {
	var req permissionRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return req, false
	}
	return req, true
}

// relay runs one host request and returns the editor's response payload
func (s *Server) relay(c *gin.Context, call func(context.Context) (json.RawMessage, error)) {
	resp, err := call(c.Request.Context())
	if err != nil {
		s.failHost(c, err)
		return
	}
	if len(resp) == 0 {
		resp = json.RawMessage("null")
	}
	c.JSON(http.StatusOK, gin.H{"resp": resp})
}

func (s *Server) writeSession(c *gin.Context, sess *session) bool {
	if err := sess.render(c.Request.Context()); err != nil {
		s.failHost(c, err)
		return false
	}
	return true
}

// failHost maps a host channel error to a gateway status
func (s *Server) failHost(c *gin.Context, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, host.ErrTimeout) {
		status = http.StatusGatewayTimeout
	}
	s.fail(c, status, err)
}
