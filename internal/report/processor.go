package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/suPer8Hu/ola-suite/internal/logging"
)

// ErrJobClaimed means another worker owns the job or it already finished.
var ErrJobClaimed = errors.New("report job already claimed")

// Generator is the part of Client the processor needs.
type Generator interface {
	Generate(ctx context.Context, req Request, idempotencyKey string) (string, error)
}

// Processor runs one queued job: claim, submit to the backend, record outcome.
type Processor struct {
	Repo      *Repo
	Generator Generator
	Logger    *slog.Logger
}

func (p *Processor) Handle(ctx context.Context, jobID string) error {
	log := logging.OrDefault(p.Logger).With("job_id", jobID)
	jobStart := time.Now()

	claimed, err := p.Repo.MarkJobRunning(ctx, jobID)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		return ErrJobClaimed
	}

	j, err := p.Repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	req, err := j.Request()
	if err != nil {
		_ = p.Repo.MarkJobFailed(ctx, jobID, "bad payload: "+err.Error())
		return fmt.Errorf("decode job payload: %w", err)
	}

	key := j.ID
	if j.IdempotencyKey != nil {
		key = *j.IdempotencyKey
	}

	t0 := time.Now()
	reportID, err := p.Generator.Generate(ctx, req, key)
	genCost := time.Since(t0)
	if err != nil {
		_ = p.Repo.MarkJobFailed(ctx, jobID, err.Error())
		log.Warn("job_failed", "attempt", j.Attempts, "gen", genCost, "total", time.Since(jobStart), "err", err)
		return err
	}

	if err := p.Repo.MarkJobSucceeded(ctx, jobID, reportID); err != nil {
		return err
	}

	if total := time.Since(jobStart); total > 2*time.Second {
		log.Info("job_timing", "gen", genCost, "total", total, "report_id", reportID)
	}
	return nil
}
