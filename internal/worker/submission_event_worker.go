package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"questionnaire/internal/model"
	"questionnaire/internal/platform/rabbitmq"
)

type SubmissionRecorder interface {
	Record(ctx context.Context, event model.SubmissionEvent) error
}

// SubmissionEventWorker consumes submission events and feeds them into the
// stats recorder. A nil recorder only logs the events.
type SubmissionEventWorker struct {
	conn      *amqp.Connection
	recorder  SubmissionRecorder
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSubmissionEventWorker(conn *amqp.Connection, recorder SubmissionRecorder, queueName string) *SubmissionEventWorker {
	return &SubmissionEventWorker{
		conn:      conn,
		recorder:  recorder,
		queueName: queueName,
	}
}

func (w *SubmissionEventWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *SubmissionEventWorker) handle(ctx context.Context, d amqp.Delivery) {
	event, err := DecodeSubmissionEvent(d.Body)
	if err != nil {
		slog.Warn("worker decode submission event failed", slog.String("error", err.Error()))
		_ = d.Nack(false, false)
		return
	}

	if w.recorder != nil {
		if err := w.recorder.Record(ctx, event); err != nil {
			slog.Error("worker record submission failed",
				slog.Uint64("response_id", uint64(event.ResponseID)),
				slog.String("error", err.Error()),
			)
			_ = d.Nack(false, false)
			return
		}
	}

	slog.Info("submission recorded",
		slog.Uint64("response_id", uint64(event.ResponseID)),
		slog.Time("submitted_at", event.SubmittedAt),
	)
	_ = d.Ack(false)
}

func (w *SubmissionEventWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func DecodeSubmissionEvent(body []byte) (model.SubmissionEvent, error) {
	var event model.SubmissionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return model.SubmissionEvent{}, fmt.Errorf("decode submission event failed: %w", err)
	}
	if event.ResponseID == 0 {
		return model.SubmissionEvent{}, fmt.Errorf("decode submission event failed: missing response_id")
	}
	return event, nil
}
