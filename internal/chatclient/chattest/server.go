// Package chattest runs an in-process fake of the OLA Suite backend for tests.
package chattest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// Options script the fake. They are fixed for the server's lifetime.
type Options struct {
	// Reply computes the assistant answer. Defaults to an echo.
	Reply func(message string) string

	// StreamChunks, when set, is written verbatim as the stream body, one
	// flush per element. Otherwise the reply is streamed as SSE frames.
	StreamChunks []string
	// BeforeChunk runs before chunk i is written; false ends the response.
	BeforeChunk func(ctx context.Context, i int) bool
	// StreamStatus, when non-zero, rejects streams with that status.
	StreamStatus int

	FailCreate  bool
	FailDelete  bool
	FailHistory bool
}

type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type Server struct {
	URL string

	opts Options
	srv  *httptest.Server

	mu       sync.Mutex
	seq      int
	sessions map[string][]Message
	reports  map[string]gin.H
	idem     map[string]string
	headers  http.Header

	creates, sends, streams, deletes, generates atomic.Int64
}

// New starts the fake and registers its shutdown with t.
func New(t testing.TB, opts Options) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		opts:     opts,
		sessions: make(map[string][]Message),
		reports:  make(map[string]gin.H),
		idem:     make(map[string]string),
	}
	s.srv = httptest.NewServer(s.router())
	s.URL = s.srv.URL
	t.Cleanup(s.srv.Close)
	return s
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), s.recordHeaders)

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "route not found")
	})

	r.POST("/session/create", s.createSession)
	r.DELETE("/session/:id", s.deleteSession)
	r.POST("/message/send", s.sendMessage)
	r.POST("/message/stream", s.streamMessage)
	r.GET("/message/history", s.history)

	r.POST("/report/generate", s.generateReport)
	r.GET("/report/:id", s.getReport)
	return r
}

func ok(c *gin.Context, data gin.H) {
	body := gin.H{"success": true}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func fail(c *gin.Context, httpStatus int, msg string) {
	c.JSON(httpStatus, gin.H{
		"success": false,
		"error":   msg,
	})
}

func (s *Server) recordHeaders(c *gin.Context) {
	s.mu.Lock()
	s.headers = c.Request.Header.Clone()
	s.mu.Unlock()
	c.Next()
}

// AddSession registers a session id as live, e.g. to seed a persisted id.
func (s *Server) AddSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		s.sessions[id] = nil
	}
}

// Expire forgets a session so later calls answer "Session not found".
func (s *Server) Expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) HasSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	return ok
}

// LastHeader returns a header of the most recent request.
func (s *Server) LastHeader(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers.Get(name)
}

func (s *Server) CreateCalls() int   { return int(s.creates.Load()) }
func (s *Server) SendCalls() int     { return int(s.sends.Load()) }
func (s *Server) StreamCalls() int   { return int(s.streams.Load()) }
func (s *Server) DeleteCalls() int   { return int(s.deletes.Load()) }
func (s *Server) GenerateCalls() int { return int(s.generates.Load()) }

func (s *Server) createSession(c *gin.Context) {
	s.creates.Add(1)
	if s.opts.FailCreate {
		fail(c, http.StatusServiceUnavailable, "session service unavailable")
		return
	}
	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("sess-%d", s.seq)
	s.sessions[id] = nil
	s.mu.Unlock()

	ok(c, gin.H{"session_id": id})
}

func (s *Server) deleteSession(c *gin.Context) {
	s.deletes.Add(1)
	if s.opts.FailDelete {
		fail(c, http.StatusInternalServerError, "failed to delete session")
		return
	}
	id := c.Param("id")
	s.mu.Lock()
	_, found := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !found {
		fail(c, http.StatusNotFound, "Session not found")
		return
	}
	ok(c, nil)
}

type sendMessageReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Model     string `json:"model"`
}

func (s *Server) reply(msg string) string {
	if s.opts.Reply != nil {
		return s.opts.Reply(msg)
	}
	return "echo: " + msg
}

// record appends the exchange to the session and reports whether it exists.
func (s *Server) record(sessionID, user, assistant string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist, found := s.sessions[sessionID]
	if !found {
		return false
	}
	now := time.Now().UTC().Format(time.RFC3339)
	s.sessions[sessionID] = append(hist,
		Message{Role: "user", Content: user, Timestamp: now},
		Message{Role: "assistant", Content: assistant, Timestamp: now},
	)
	return true
}

func (s *Server) sendMessage(c *gin.Context) {
	s.sends.Add(1)
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	answer := s.reply(req.Message)
	if !s.record(req.SessionID, req.Message, answer) {
		fail(c, http.StatusNotFound, "Session not found")
		return
	}
	ok(c, gin.H{"ai_response": answer})
}

func (s *Server) history(c *gin.Context) {
	if s.opts.FailHistory {
		fail(c, http.StatusInternalServerError, "failed to list messages")
		return
	}
	sessionID := c.Query("session_id")
	limit, _ := strconv.Atoi(c.Query("limit"))

	s.mu.Lock()
	hist, found := s.sessions[sessionID]
	msgs := append([]Message(nil), hist...)
	s.mu.Unlock()
	if !found {
		fail(c, http.StatusNotFound, "Session not found")
		return
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	ok(c, gin.H{"messages": msgs})
}

func (s *Server) streamMessage(c *gin.Context) {
	s.streams.Add(1)
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if s.opts.StreamStatus != 0 {
		fail(c, s.opts.StreamStatus, "stream rejected")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	if !canFlush {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}
	ctx := c.Request.Context()

	if s.opts.StreamChunks != nil {
		for i, chunk := range s.opts.StreamChunks {
			if s.opts.BeforeChunk != nil && !s.opts.BeforeChunk(ctx, i) {
				return
			}
			if ctx.Err() != nil {
				return
			}
			_, _ = c.Writer.WriteString(chunk)
			flusher.Flush()
		}
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	answer := s.reply(req.Message)
	if !s.record(req.SessionID, req.Message, answer) {
		writeJSON("error", gin.H{"type": "error", "message": "session not found"})
		return
	}

	writeJSON("step", gin.H{
		"step":       "dart_rcept_no_parser_node",
		"full_state": gin.H{"question": req.Message},
	})
	for _, word := range strings.SplitAfter(answer, " ") {
		if ctx.Err() != nil {
			return
		}
		writeJSON("chunk", gin.H{"type": "chunk", "delta": word})
	}
	writeJSON("final", gin.H{"type": "final_answer", "final_answer": answer})
	writeJSON("done", gin.H{"type": "done"})
}

type generateReportReq struct {
	Company  string   `json:"company" binding:"required"`
	Mode     string   `json:"mode" binding:"required"`
	Title    string   `json:"title"`
	Period   string   `json:"period"`
	Sections []string `json:"sections"`
	Schedule string   `json:"schedule"`
}

func (s *Server) generateReport(c *gin.Context) {
	s.generates.Add(1)
	var req generateReportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	key := c.GetHeader("Idempotency-Key")

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, seen := s.idem[key]; key != "" && seen {
		ok(c, gin.H{"report_id": id})
		return
	}
	s.seq++
	id := fmt.Sprintf("rpt-%d", s.seq)
	if key != "" {
		s.idem[key] = id
	}
	s.reports[id] = gin.H{
		"id":       id,
		"status":   "queued",
		"company":  req.Company,
		"mode":     req.Mode,
		"title":    req.Title,
		"period":   req.Period,
		"sections": req.Sections,
	}
	ok(c, gin.H{"report_id": id})
}

func (s *Server) getReport(c *gin.Context) {
	s.mu.Lock()
	rpt, found := s.reports[c.Param("id")]
	s.mu.Unlock()
	if !found {
		fail(c, http.StatusNotFound, "report not found")
		return
	}
	ok(c, gin.H{"report": rpt})
}

// SetReportStatus moves a generated report to status.
func (s *Server) SetReportStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rpt, found := s.reports[id]; found {
		rpt["status"] = status
	}
}
