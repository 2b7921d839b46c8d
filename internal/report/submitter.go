package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/suPer8Hu/ola-suite/internal/common"
	"github.com/suPer8Hu/ola-suite/internal/logging"
)

// Submission is the outcome of handing a request off. Direct submissions
// carry ReportID; queued ones carry JobID.
type Submission struct {
	ReportID string
	JobID    string
	Queued   bool
	// Duplicate is set when the idempotency key matched an earlier submission.
	Duplicate bool
}

type Submitter interface {
	// Submit sends req. An empty idempotencyKey gets a fresh one.
	Submit(ctx context.Context, req Request, idempotencyKey string) (Submission, error)
}

type SubmitterFactory func(ctx context.Context) (Submitter, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]SubmitterFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]SubmitterFactory)}
}

func (r *Registry) Register(name string, f SubmitterFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string) (Submitter, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown report submitter: %s", name)
	}
	return f(ctx)
}

// HTTPSubmitter calls the backend directly.
type HTTPSubmitter struct {
	Client *Client
}

func (s *HTTPSubmitter) Submit(ctx context.Context, req Request, idempotencyKey string) (Submission, error) {
	if idempotencyKey == "" {
		idempotencyKey = common.NewIdempotencyKey()
	}
	id, err := s.Client.Generate(ctx, req, idempotencyKey)
	if err != nil {
		return Submission{}, err
	}
	return Submission{ReportID: id}, nil
}

// JobPublisher hands a stored job to the worker queue.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// QueueSubmitter stores a job and publishes its id; the worker submits it.
type QueueSubmitter struct {
	Repo      *Repo
	Publisher JobPublisher
	Logger    *slog.Logger
}

func (s *QueueSubmitter) Submit(ctx context.Context, req Request, idempotencyKey string) (Submission, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return Submission{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Submission{}, err
	}
	id, err := common.NewULID()
	if err != nil {
		return Submission{}, err
	}
	if idempotencyKey == "" {
		idempotencyKey = common.NewIdempotencyKey()
	}

	job, created, err := s.Repo.CreateJobOrGetExisting(ctx, &Job{
		ID:             id,
		IdempotencyKey: &idempotencyKey,
		Company:        req.Company,
		Payload:        string(payload),
		Status:         JobQueued,
	})
	if err != nil {
		return Submission{}, fmt.Errorf("store report job: %w", err)
	}
	if !created {
		logging.OrDefault(s.Logger).Info("duplicate report submission", "job_id", job.ID, "status", job.Status)
		sub := Submission{JobID: job.ID, Queued: true, Duplicate: true}
		if job.ReportID != nil {
			sub.ReportID = *job.ReportID
		}
		return sub, nil
	}

	if err := s.Publisher.PublishJob(ctx, job.ID); err != nil {
		msg := "publish failed: " + err.Error()
		_ = s.Repo.MarkJobFailed(ctx, job.ID, msg)
		return Submission{}, fmt.Errorf("publish report job %s: %w", job.ID, err)
	}
	return Submission{JobID: job.ID, Queued: true}, nil
}
