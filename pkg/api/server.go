// Package api provides the REST API server for midi2makecode
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/james-see/midi2makecode/pkg/config"
	"github.com/james-see/midi2makecode/pkg/converter"
	"github.com/james-see/midi2makecode/pkg/converter/targets"
)

// @title MIDI2MakeCode API
// @version 1.0
// @description API for converting MIDI files into MakeCode melodies
// @host localhost:8080
// @BasePath /api/v1

const shutdownTimeout = 5 * time.Second

// Server serves the conversion API and the editor extension bridge
type Server struct {
	cfg      *config.Config
	log      *zap.Logger
	engine   *gin.Engine
	format   converter.TokenFormat
	sessions *sessionRegistry
	upgrader websocket.Upgrader
}

// NewServer builds the router for cfg
func NewServer(cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	format, err := converter.ParseTokenFormat(cfg.TokenFormat)
	if err != nil {
		return nil, err
	}
	if _, err := targets.ParseID(cfg.DefaultTarget); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		format:   format,
		sessions: newSessionRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The extension page is served from the editor's origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.SentryDSN != "" {
		r.Use(sentryMiddleware())
	}
	r.Use(requestTracking(log))
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	// Health check
	r.GET("/health", healthCheck)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/targets", s.listTargets)
		v1.POST("/convert/:target", s.handleConvert)
		v1.POST("/quantize", s.handleQuantize)
		v1.POST("/json", s.handleJSON)
		v1.POST("/preview", s.handlePreview)

		v1.GET("/extension/ws", s.handleExtensionSocket)
		v1.GET("/extension/:session/songs", s.listSessionSongs)
		v1.POST("/extension/:session/songs", s.addSessionSongs)
		v1.PATCH("/extension/:session/songs/:id", s.renameSessionSong)
		v1.DELETE("/extension/:session/songs/:id", s.removeSessionSong)
		v1.GET("/extension/:session/project", s.readSessionProject)
		v1.GET("/extension/:session/permission", s.querySessionPermission)
		v1.POST("/extension/:session/permission", s.requestSessionPermission)
		v1.POST("/extension/:session/stream", s.setSessionStream)
	}

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	s.engine = r
	return s, nil
}

// Handler returns the server's HTTP handler with CORS applied
func (s *Server) Handler() http.Handler {
	return cors.AllowAll().Handler(s.engine)
}

// StartServer runs the API server until ctx is cancelled
func StartServer(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	s, err := NewServer(cfg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.sessions.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "midi2makecode",
	})
}

// listTargets godoc
// @Summary List supported targets
// @Description Returns the MakeCode targets and token formats
// @Tags info
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/targets [get]
func (s *Server) listTargets(c *gin.Context) {
	list := make([]gin.H, 0, 4)
	for _, t := range targets.All() {
		list = append(list, gin.H{
			"id":        t.ID(),
			"name":      t.Name(),
			"extension": t.Extension(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"targets": list,
		"formats": []converter.TokenFormat{converter.TokensLegacy, converter.TokensSpan},
		"default": s.cfg.DefaultTarget,
	})
}

// handleConvert godoc
// @Summary Convert MIDI to a MakeCode snippet
// @Description Upload a MIDI file (or song JSON) and receive generated code for the target
// @Tags convert
// @Accept multipart/form-data
// @Produce plain
// @Param target path string true "Target (microbit, adafruit, arcade, json)"
// @Param file formData file true "MIDI file to convert"
// @Param format query string false "Token format (legacy or span)"
// @Success 200 {string} string
// @Failure 400 {object} map[string]string
// @Router /api/v1/convert/{target} [post]
func (s *Server) handleConvert(c *gin.Context) {
	conv, ok := s.converterFor(c, c.Param("target"))
	if !ok {
		return
	}
	s.convert(c, conv)
}

// handleJSON godoc
// @Summary Export parsed MIDI as JSON
// @Description Upload a MIDI file and receive its parsed notes as JSON
// @Tags convert
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "MIDI file to convert"
// @Success 200 {object} converter.MidiData
// @Failure 400 {object} map[string]string
// @Router /api/v1/json [post]
func (s *Server) handleJSON(c *gin.Context) {
	conv, ok := s.converterFor(c, string(converter.TargetJSON))
	if !ok {
		return
	}
	s.convert(c, conv)
}

func (s *Server) convert(c *gin.Context, conv *converter.Converter) {
	data, filename, ok := s.readUpload(c)
	if !ok {
		return
	}

	out, err := conv.Convert(data)
	if err != nil && !converter.IsPartial(err) {
		s.fail(c, http.StatusUnprocessableEntity, err)
		return
	}
	s.reportSkipped(c, err)

	contentType := "text/plain; charset=utf-8"
	if conv.GetTarget().ID() == converter.TargetJSON {
		contentType = "application/json"
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", converter.OutputPath(filename, conv.GetTarget())))
	c.Data(http.StatusOK, contentType, []byte(out))
}

type quantizedTrack struct {
	Instrument string            `json:"instrument"`
	Tokens     []converter.Token `json:"tokens"`
	Notes      []string          `json:"notes"`
}

// handleQuantize godoc
// @Summary Quantize a MIDI file
// @Description Upload a MIDI file and receive its quantized tracks
// @Tags convert
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "MIDI file to quantize"
// @Param format query string false "Token format (legacy or span)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /api/v1/quantize [post]
func (s *Server) handleQuantize(c *gin.Context) {
	conv, ok := s.converterFor(c, "")
	if !ok {
		return
	}
	data, _, ok := s.readUpload(c)
	if !ok {
		return
	}

	md, err := converter.LoadSong(data)
	if err != nil {
		s.fail(c, http.StatusUnprocessableEntity, err)
		return
	}

	tracks, err := conv.QuantizeSong(md)
	if err != nil && tracks == nil {
		s.fail(c, http.StatusUnprocessableEntity, err)
		return
	}

	out := make([]quantizedTrack, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, quantizedTrack{
			Instrument: t.Instrument,
			Tokens:     t.Tokens,
			Notes:      t.Notes(conv.TokenFormat()),
		})
	}

	resp := gin.H{
		"name":     md.Header.Name,
		"bpm":      md.Header.BPM,
		"duration": md.Duration,
		"format":   conv.TokenFormat(),
		"tracks":   out,
	}
	var skipped *converter.SkippedTracksError
	if errors.As(err, &skipped) {
		resp["warnings"] = skipped.Warnings()
	}
	c.JSON(http.StatusOK, resp)
}

// handlePreview godoc
// @Summary Render the quantized song as MIDI
// @Description Upload a MIDI file and receive the quantized melody as a MIDI file
// @Tags convert
// @Accept multipart/form-data
// @Produce application/octet-stream
// @Param file formData file true "MIDI file to preview"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Router /api/v1/preview [post]
func (s *Server) handlePreview(c *gin.Context) {
	data, filename, ok := s.readUpload(c)
	if !ok {
		return
	}

	result, err := converter.New(nil, converter.WithLogger(s.log)).Preview(data)
	if err != nil && !converter.IsPartial(err) {
		s.fail(c, http.StatusUnprocessableEntity, err)
		return
	}
	s.reportSkipped(c, err)

	outputName := strings.TrimSuffix(filename, filepath.Ext(filename)) + ".preview.mid"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", outputName))
	c.Data(http.StatusOK, "audio/midi", result)
}

// reportSkipped sets X-Skipped-Tracks when a conversion dropped failing tracks
func (s *Server) reportSkipped(c *gin.Context, err error) {
	var skipped *converter.SkippedTracksError
	if !errors.As(err, &skipped) {
		return
	}
	s.log.Warn("skipped tracks",
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.Strings("warnings", skipped.Warnings()),
	)
	c.Header("X-Skipped-Tracks", strconv.Itoa(len(skipped.Errs)))
}

// converterFor builds a converter for the target name (or the default target)
// and the request's format query
func (s *Server) converterFor(c *gin.Context, targetName string) (*converter.Converter, bool) {
	if targetName == "" {
		targetName = s.cfg.DefaultTarget
	}
	target, err := targets.Lookup(targetName)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return nil, false
	}

	format := s.format
	if q := c.Query("format"); q != "" {
		if format, err = converter.ParseTokenFormat(q); err != nil {
			s.fail(c, http.StatusBadRequest, err)
			return nil, false
		}
	}

	return converter.New(target, converter.WithTokenFormat(format), converter.WithLogger(s.log)), true
}

// readUpload reads the multipart "file" field
func (s *Server) readUpload(c *gin.Context) ([]byte, string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return nil, "", false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return nil, "", false
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return nil, "", false
	}

	return data, header.Filename, true
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error":      err.Error(),
		"request_id": c.GetString(requestIDKey),
	})
}
