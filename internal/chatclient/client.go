// Package chatclient talks to the OLA Suite chat backend: it owns the chat
// session, sends messages, and streams answers as parsed events.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/ola-suite/internal/auth"
	"github.com/suPer8Hu/ola-suite/internal/logging"
	"github.com/suPer8Hu/ola-suite/internal/store"
	"github.com/suPer8Hu/ola-suite/internal/store/memstore"
)

const (
	DefaultSessionKey = "ola_chat_session_id"
	defaultTimeout    = 30 * time.Second
	maxBodyBytes      = 4 << 20
)

// Paths are the backend routes, relative to BaseURL.
type Paths struct {
	CreateSession string
	SendMessage   string
	StreamMessage string
	History       string
	// DeleteSession is a prefix; the session id is appended.
	DeleteSession string
}

func DefaultPaths() Paths {
	return Paths{
		CreateSession: "/session/create",
		SendMessage:   "/message/send",
		StreamMessage: "/message/stream",
		History:       "/message/history",
		DeleteSession: "/session/",
	}
}

type Options struct {
	BaseURL string
	Paths   Paths

	// HTTPClient serves non-streaming calls. Defaults to a client with Timeout.
	HTTPClient *http.Client
	// StreamClient serves streams and should have no overall timeout.
	StreamClient *http.Client
	Timeout      time.Duration

	Store      store.SessionStore
	SessionKey string

	Signer       auth.Signer
	DefaultModel string
	Logger       *slog.Logger
}

type Client struct {
	baseURL    string
	paths      Paths
	http       *http.Client
	streamHTTP *http.Client
	store      store.SessionStore
	sessionKey string
	signer     auth.Signer
	model      string
	log        *slog.Logger

	mu        sync.Mutex
	sessionID string
	gen       uint64 // bumped on every session change
	current   *Stream

	// orders store writes; held without mu so store I/O never blocks readers
	persistMu sync.Mutex

	// serialises implicit session creation so concurrent sends open one session
	createMu sync.Mutex
}

// New builds a client and loads the persisted session id once.
// A store read failure is logged and the client starts without a session.
func New(ctx context.Context, opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("chatclient: base url is required")
	}
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("chatclient: invalid base url %q", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:    base,
		paths:      opts.Paths,
		http:       opts.HTTPClient,
		streamHTTP: opts.StreamClient,
		store:      opts.Store,
		sessionKey: opts.SessionKey,
		signer:     opts.Signer,
		model:      opts.DefaultModel,
		log:        logging.OrDefault(opts.Logger),
	}
	if c.paths == (Paths{}) {
		c.paths = DefaultPaths()
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: timeout}
	}
	if c.streamHTTP == nil {
		c.streamHTTP = &http.Client{}
	}
	if c.store == nil {
		c.store = memstore.New()
	}
	if c.sessionKey == "" {
		c.sessionKey = DefaultSessionKey
	}

	id, err := c.store.Get(ctx, c.sessionKey)
	switch {
	case err == nil:
		c.sessionID = id
	case errors.Is(err, store.ErrNotFound):
	default:
		c.log.Warn("load persisted session failed", "err", err)
	}
	return c, nil
}

// SessionID returns the cached session id, or "" when there is none.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type createSessionResp struct {
	envelope
	SessionID string `json:"session_id"`
}

type sendReq struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Model     string `json:"model,omitempty"`
}

type sendResp struct {
	envelope
	AIResponse string `json:"ai_response"`
}

// ChatMessage is one history entry as the backend returns it.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

type historyResp struct {
	envelope
	Messages []ChatMessage `json:"messages"`
}

// CreateSession opens a new backend session and makes it current.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var resp createSessionResp
	status, err := c.doJSON(ctx, http.MethodPost, c.paths.CreateSession, nil, struct{}{}, &resp)
	if err != nil {
		return "", &SessionCreationError{Status: status, Message: defaultCreateSessionMsg, Err: err}
	}
	if !resp.Success || strings.TrimSpace(resp.SessionID) == "" {
		msg := firstNonEmpty(resp.Error, resp.Message, defaultCreateSessionMsg)
		return "", &SessionCreationError{Status: status, Message: msg}
	}

	c.mu.Lock()
	c.sessionID = resp.SessionID
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	c.persist(ctx, gen, resp.SessionID)

	c.log.Debug("session created", "session_id", resp.SessionID)
	return resp.SessionID, nil
}

// ensureSession returns the cached session, creating one when absent.
func (c *Client) ensureSession(ctx context.Context) (string, error) {
	if id := c.SessionID(); id != "" {
		return id, nil
	}
	c.createMu.Lock()
	defer c.createMu.Unlock()
	if id := c.SessionID(); id != "" {
		return id, nil
	}
	return c.CreateSession(ctx)
}

// DeleteSession deletes the current session. It reports true when there is
// nothing to delete; a failed delete is logged and reported as false.
func (c *Client) DeleteSession(ctx context.Context) bool {
	id := c.SessionID()
	if id == "" {
		return true
	}

	var resp envelope
	status, err := c.doJSON(ctx, http.MethodDelete, c.paths.DeleteSession+url.PathEscape(id), nil, nil, &resp)
	if err != nil {
		c.log.Warn("delete session failed", "session_id", id, "status", status, "err", err)
		return false
	}
	if !resp.Success {
		c.log.Warn("delete session rejected", "session_id", id, "status", status,
			"message", firstNonEmpty(resp.Error, resp.Message))
		return false
	}

	c.mu.Lock()
	cleared := c.sessionID == id
	if cleared {
		c.sessionID = ""
		c.gen++
	}
	gen := c.gen
	c.mu.Unlock()
	if cleared {
		c.persist(ctx, gen, "")
	}
	return true
}

// persist writes the session id (or removes it when empty) unless a newer
// session change has happened since gen; that change persists itself.
func (c *Client) persist(ctx context.Context, gen uint64, id string) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	stale := c.gen != gen
	c.mu.Unlock()
	if stale {
		return
	}

	if id == "" {
		if err := c.store.Remove(ctx, c.sessionKey); err != nil {
			c.log.Warn("clear persisted session failed", "err", err)
		}
		return
	}
	if err := c.store.Set(ctx, c.sessionKey, id); err != nil {
		c.log.Warn("persist session failed", "session_id", id, "err", err)
	}
}

// StartNewChat drops the current session (best effort) and opens a fresh one.
func (c *Client) StartNewChat(ctx context.Context) (string, error) {
	if id := c.SessionID(); id != "" && !c.DeleteSession(ctx) {
		c.log.Info("previous session not deleted, replacing it anyway", "session_id", id)
	}
	return c.CreateSession(ctx)
}

type SendOption func(*sendOptions)

type sendOptions struct {
	model string
}

// WithModel selects the backend model for one call.
func WithModel(model string) SendOption {
	return func(o *sendOptions) { o.model = strings.TrimSpace(model) }
}

func (c *Client) sendOpts(opts []SendOption) sendOptions {
	o := sendOptions{model: c.model}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// SendMessage sends message and returns the complete assistant reply.
// An expired session is replaced once and the message resent.
func (c *Client) SendMessage(ctx context.Context, message string, opts ...SendOption) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	o := c.sendOpts(opts)

	sid, err := c.ensureSession(ctx)
	if err != nil {
		return "", err
	}
	reply, err := c.send(ctx, sid, message, o.model)
	if !errors.Is(err, ErrSessionNotFound) {
		return reply, err
	}

	c.log.Info("session expired, recreating", "session_id", sid)
	sid, err = c.CreateSession(ctx)
	if err != nil {
		return "", err
	}
	return c.send(ctx, sid, message, o.model)
}

func (c *Client) send(ctx context.Context, sid, message, model string) (string, error) {
	var resp sendResp
	status, err := c.doJSON(ctx, http.MethodPost, c.paths.SendMessage, nil,
		sendReq{SessionID: sid, Message: message, Model: model}, &resp)
	if err != nil {
		return "", &APIError{Op: "send message", Status: status, Message: defaultSendMsg, Err: err}
	}
	if !resp.Success {
		apiErr := &APIError{Op: "send message", Status: status, Message: firstNonEmpty(resp.Error, resp.Message, defaultSendMsg)}
		if isSessionNotFound(resp.Error, resp.Message) {
			apiErr.Err = ErrSessionNotFound
		}
		return "", apiErr
	}
	return resp.AIResponse, nil
}

// History returns up to limit past messages of the current session.
// Failures degrade to an empty slice.
func (c *Client) History(ctx context.Context, limit int) []ChatMessage {
	sid := c.SessionID()
	if sid == "" {
		return []ChatMessage{}
	}
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("session_id", sid)

	var resp historyResp
	status, err := c.doJSON(ctx, http.MethodGet, c.paths.History, q, nil, &resp)
	if err != nil || !resp.Success {
		c.log.Warn("load history failed", "session_id", sid, "status", status, "err", err,
			"message", firstNonEmpty(resp.Error, resp.Message))
		return []ChatMessage{}
	}
	if resp.Messages == nil {
		return []ChatMessage{}
	}
	return resp.Messages
}

// newRequest builds a signed JSON request. body may be nil.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.signer != nil {
		if err := c.signer.Sign(req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// doJSON performs a non-streaming call and decodes the JSON body into out,
// also for non-2xx responses since the backend reports errors in the body.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) (int, error) {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
		}
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
