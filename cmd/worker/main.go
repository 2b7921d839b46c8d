package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/ola-suite/internal/auth"
	"github.com/suPer8Hu/ola-suite/internal/config"
	"github.com/suPer8Hu/ola-suite/internal/db"
	"github.com/suPer8Hu/ola-suite/internal/logging"
	"github.com/suPer8Hu/ola-suite/internal/report"
	"github.com/suPer8Hu/ola-suite/internal/store/rabbitmq"
)

const maxAttempts = 3

// retrier parks a failed job on the retry queue.
type retrier interface {
	PublishRetry(ctx context.Context, jobID string, delay time.Duration) error
}

func retryDelay(attempt int) time.Duration {
	return time.Duration(attempt*attempt) * 5 * time.Second
}

func main() {
	_ = godotenv.Load()
	cfg, err := config.LoadFile(os.Getenv("OLA_CONFIG_FILE"))
	log := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Error("load config", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("worker stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	gdb, err := db.Open(cfg.DBDSN)
	if err != nil {
		return err
	}
	repo := report.NewRepo(gdb)
	if err := repo.Migrate(); err != nil {
		return err
	}

	signer, err := auth.NewHeaderSigner(cfg.AuthSecret, cfg.AuthSubject, cfg.AuthTTL, cfg.EncKey, cfg.EncPayload)
	if err != nil {
		return err
	}
	client, err := report.NewClient(report.ClientOptions{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.RequestTimeout,
		Signer:  signer,
		Logger:  log,
	})
	if err != nil {
		return err
	}
	proc := &report.Processor{Repo: repo, Generator: client, Logger: log}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		return err
	}
	defer pub.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		return err
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return err
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With("worker", workerID)
			for d := range jobs {
				handleDelivery(ctx, wlog, proc, repo, pub, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return nil

		case d, ok := <-msgs:
			if !ok {
				close(jobs)
				wg.Wait()
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

// acker is the part of amqp.Delivery the handler uses.
type acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type delivery struct {
	acker
	body []byte
}

func handleDelivery(ctx context.Context, log *slog.Logger, proc *report.Processor, repo *report.Repo, rt retrier, d amqp.Delivery) {
	settle(ctx, log, proc, repo, rt, delivery{acker: &d, body: d.Body})
}

func settle(ctx context.Context, log *slog.Logger, proc *report.Processor, repo *report.Repo, rt retrier, d delivery) {
	jobID, err := rabbitmq.DecodeJobMessage(d.body)
	if err != nil {
		log.Warn("bad message", "err", err)
		_ = d.Nack(false, false)
		return
	}
	log = log.With("job_id", jobID)

	start := time.Now()
	err = proc.Handle(ctx, jobID)
	switch {
	case err == nil:
		log.Info("job succeeded", "cost", time.Since(start))
	case errors.Is(err, report.ErrJobClaimed):
		log.Info("job already handled, dropping")
	default:
		j, getErr := repo.GetJobByID(ctx, jobID)
		if getErr == nil && j.Attempts < maxAttempts {
			delay := retryDelay(j.Attempts)
			if pubErr := rt.PublishRetry(ctx, jobID, delay); pubErr == nil {
				log.Warn("job failed, retry scheduled", "attempt", j.Attempts, "delay", delay, "err", err)
				_ = d.Ack(false)
				return
			}
		}
		log.Error("job failed", "cost", time.Since(start), "err", err)
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Warn("ack failed", "err", err)
	}
}
