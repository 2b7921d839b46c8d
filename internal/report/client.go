package report

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
	"strings"
	"time"

	"github.com/suPer8Hu/ola-suite/internal/auth"
	"github.com/suPer8Hu/ola-suite/internal/chatclient"
	"github.com/suPer8Hu/ola-suite/internal/logging"
)

const (
	defaultGenerateMsg = "failed to request report generation"
	defaultGetMsg      = "failed to load report"
)

var ErrNotFound = errors.New("report not found")

// Report is the backend's view of a generated (or pending) report.
type Report struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Company  string   `json:"company"`
	Mode     Mode     `json:"mode"`
	Title    string   `json:"title"`
	Period   string   `json:"period"`
	Sections []string `json:"sections"`
	PDFURL   string   `json:"pdf_url,omitempty"`
}

type ClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Signer     auth.Signer
	Logger     *slog.Logger
}

type Client struct {
	baseURL string
	http    *http.Client
	signer  auth.Signer
	log     *slog.Logger
}

func NewClient(opts ClientOptions) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if u, err := url.Parse(base); base == "" || err != nil || u.Host == "" {
		return nil, fmt.Errorf("report: invalid base url %q", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: base, http: hc, signer: opts.Signer, log: logging.OrDefault(opts.Logger)}, nil
}

type generateResp struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Message  string `json:"message"`
	ReportID string `json:"report_id"`
}

type getResp struct {
	Success bool    `json:"success"`
	Error   string  `json:"error"`
	Message string  `json:"message"`
	Report  *Report `json:"report"`
}

// Generate asks the backend to build req. The backend deduplicates on
// idempotencyKey, so a retried submission yields the same report id.
func (c *Client) Generate(ctx context.Context, req Request, idempotencyKey string) (string, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return "", err
	}
	var resp generateResp
	status, err := c.do(ctx, http.MethodPost, "/report/generate", req, idempotencyKey, &resp)
	if err != nil {
		return "", &chatclient.APIError{Op: "generate report", Status: status, Message: defaultGenerateMsg, Err: err}
	}
	if !resp.Success || resp.ReportID == "" {
		return "", &chatclient.APIError{Op: "generate report", Status: status, Message: firstNonEmpty(resp.Error, resp.Message, defaultGenerateMsg)}
	}
	c.log.Info("report requested", "report_id", resp.ReportID, "company", req.Company, "mode", req.Mode)
	return resp.ReportID, nil
}

func (c *Client) Get(ctx context.Context, id string) (*Report, error) {
	var resp getResp
	status, err := c.do(ctx, http.MethodGet, "/report/"+url.PathEscape(id), nil, "", &resp)
	if err != nil {
		return nil, &chatclient.APIError{Op: "get report", Status: status, Message: defaultGetMsg, Err: err}
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !resp.Success || resp.Report == nil {
		return nil, &chatclient.APIError{Op: "get report", Status: status, Message: firstNonEmpty(resp.Error, resp.Message, defaultGetMsg)}
	}
	return resp.Report, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.signer != nil {
		if err := c.signer.Sign(req); err != nil {
			return 0, err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
		}
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
