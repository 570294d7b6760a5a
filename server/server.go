// Package server exposes the HTTP surface: job submission, job state, and a
// websocket stream of per-job progress events.
package server

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lectoria/conspect/translate"
	"github.com/lectoria/conspect/worker"
)

type jobRequest struct {
	URL            string   `json:"url"`
	URLs           []string `json:"urls"`
	Title          string   `json:"title"`
	TargetLanguage string   `json:"target_language"`
	Summary        bool     `json:"summary"`
}

type jobResponse struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

type stateResponse struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	Percent   int      `json:"percent"`
	Message   string   `json:"message"`
	Error     string   `json:"error,omitempty"`
	Language  string   `json:"language,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// Server wires the runner to fiber routes.
type Server struct {
	runner    *worker.Runner
	uploadDir string
	log       zerolog.Logger
	app       *fiber.App
}

func New(runner *worker.Runner, uploadDir string, log zerolog.Logger) *Server {
	s := &Server{
		runner:    runner,
		uploadDir: uploadDir,
		log:       log,
		app:       fiber.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// POST /jobs accepts multipart upload(s) or JSON with remote URL(s)
	s.app.Post("/jobs", s.handleCreate)

	// GET /jobs/:id returns the current state snapshot
	s.app.Get("/jobs/:id", s.handleState)

	// Middleware to require WebSocket upgrade on the events route
	s.app.Use("/jobs/:id/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/jobs/:id/events", websocket.New(s.handleEvents))
}

func (s *Server) handleCreate(c *fiber.Ctx) error {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return s.createFromUpload(c)
	}
	return s.createFromJSON(c)
}

func (s *Server) createFromUpload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid multipart form"})
	}
	files := form.File["media"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "`media` file field is required"})
	}

	target, err := translate.TargetByName(formValue(form.Value, "target_language", "russian"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var refs []string
	for _, fh := range files {
		dst := filepath.Join(s.uploadDir, fmt.Sprintf("%s%s", uuid.NewString(), filepath.Ext(fh.Filename)))
		if err := c.SaveFile(fh, dst); err != nil {
			s.log.Error().Err(err).Str("file", fh.Filename).Msg("saving upload")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store upload"})
		}
		refs = append(refs, dst)
	}

	title := formValue(form.Value, "title", "")
	if title == "" {
		title = baseTitle(files[0].Filename)
	}

	summary := formValue(form.Value, "summary", "") == "true"

	id := s.runner.Submit(worker.Job{
		Refs:        refs,
		Title:       title,
		Target:      target,
		WithSummary: summary,
	})
	s.log.Info().Str("job", id).Int("files", len(refs)).Msg("upload job queued")
	return c.Status(fiber.StatusAccepted).JSON(jobResponse{ID: id, Message: "job queued"})
}

func (s *Server) createFromJSON(c *fiber.Ctx) error {
	var req jobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}

	refs := req.URLs
	if req.URL != "" {
		refs = append([]string{req.URL}, refs...)
	}
	if len(refs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "`url` or `urls` field is required"})
	}

	if req.TargetLanguage == "" {
		req.TargetLanguage = "russian"
	}
	target, err := translate.TargetByName(req.TargetLanguage)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	title := req.Title
	if title == "" {
		title = baseTitle(refs[0])
	}

	id := s.runner.Submit(worker.Job{
		Refs:        refs,
		Title:       title,
		Target:      target,
		WithSummary: req.Summary,
	})
	s.log.Info().Str("job", id).Int("refs", len(refs)).Msg("url job queued")
	return c.Status(fiber.StatusAccepted).JSON(jobResponse{ID: id, Message: "job queued"})
}

func (s *Server) handleState(c *fiber.Ctx) error {
	id := c.Params("id")
	st, ok := s.runner.State(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown job"})
	}
	return c.JSON(stateResponse{
		ID:        id,
		Status:    string(st.Status),
		Percent:   st.Percent,
		Message:   st.Message,
		Error:     st.Error,
		Language:  string(st.Language),
		Artifacts: st.Artifacts,
	})
}

// handleEvents streams progress to the client until the job finishes or the
// client goes away.
func (s *Server) handleEvents(ws *websocket.Conn) {
	defer ws.Close()
	id := ws.Params("id")

	st, ok := s.runner.State(id)
	if !ok {
		_ = ws.WriteJSON(fiber.Map{"error": "unknown job"})
		return
	}
	if st.Status == worker.StatusDone || st.Status == worker.StatusFailed {
		_ = ws.WriteJSON(fiber.Map{"percent": st.Percent, "message": st.Message, "status": string(st.Status)})
		return
	}

	events, cancel := s.runner.Subscribe(id)
	defer cancel()

	// Detect client disconnect; control frames are all we expect to read.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			if err := ws.WriteJSON(fiber.Map{"percent": ev.Percent, "message": ev.Message}); err != nil {
				return
			}
		case <-ticker.C:
			st, ok := s.runner.State(id)
			if !ok {
				return
			}
			if st.Status == worker.StatusDone || st.Status == worker.StatusFailed {
				_ = ws.WriteJSON(fiber.Map{"percent": st.Percent, "message": st.Message, "status": string(st.Status)})
				return
			}
		case <-gone:
			return
		}
	}
}

// Listen blocks serving HTTP on addr.
func (s *Server) Listen(addr string) error {
	s.log.Info().Str("addr", addr).Msg("http server listening")
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func formValue(values map[string][]string, key, fallback string) string {
	if v, ok := values[key]; ok && len(v) > 0 && v[0] != "" {
		return v[0]
	}
	return fallback
}

func baseTitle(ref string) string {
	base := filepath.Base(ref)
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	if base == "" || base == "." || base == "/" {
		return "recording"
	}
	return base
}
