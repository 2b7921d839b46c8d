package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// JobMessage is the queue payload; the job itself lives in the database.
type JobMessage struct {
	JobID string `json:"job_id"`
}

var ErrBadMessage = errors.New("rabbitmq: malformed job message")

func EncodeJobMessage(jobID string) ([]byte, error) {
	if jobID == "" {
		return nil, ErrBadMessage
	}
	return json.Marshal(JobMessage{JobID: jobID})
}

func DecodeJobMessage(body []byte) (string, error) {
	var m JobMessage
	if err := json.Unmarshal(body, &m); err != nil || m.JobID == "" {
		return "", ErrBadMessage
	}
	return m.JobID, nil
}

// RetryQueue and DeadLetterQueue derive the auxiliary queue names.
func RetryQueue(queue string) string      { return queue + ".retry" }
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// DeclareTopology declares the main queue plus its retry and DLQ queues.
// Publisher and worker must both use it so queue arguments match.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := RetryQueue(queue)
	dlqQ := DeadLetterQueue(queue)

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	)
	return err
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishJob enqueues a report job id for the worker.
func (p *Publisher) PublishJob(ctx context.Context, jobID string) error {
	return p.publish(ctx, p.queue, jobID, "")
}

// PublishRetry parks a job id on the retry queue; it returns to the main
// queue after delay.
func (p *Publisher) PublishRetry(ctx context.Context, jobID string, delay time.Duration) error {
	return p.publish(ctx, RetryQueue(p.queue), jobID, formatExpiration(delay))
}

func (p *Publisher) publish(ctx context.Context, queue, jobID, expiration string) error {
	body, err := EncodeJobMessage(jobID)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			Expiration:   expiration,
		},
	)
}

// formatExpiration renders a per-message TTL in milliseconds.
func formatExpiration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	ms := d.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}
