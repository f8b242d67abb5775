package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cwrk-planet/mainroom-service/internal/domain"

	"github.com/hibiken/asynq"
)

const TaskRoomEvent = "mainroom:event"

// ===================== Publisher =====================

// AsynqPublisher кладёт события в очередь Redis; запись в БД делает AsynqWorker.
type AsynqPublisher struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

func NewAsynqPublisher(opt asynq.RedisConnOpt, queue string, maxRetry int) *AsynqPublisher {
	if queue == "" {
		queue = "events"
	}
	return &AsynqPublisher{client: asynq.NewClient(opt), queue: queue, maxRetry: maxRetry}
}

func (p *AsynqPublisher) Append(ctx context.Context, ev domain.RoomEvent) error {
	task, err := NewEventTask(ev)
	if err != nil {
		return err
	}

	opts := []asynq.Option{asynq.Queue(p.queue), asynq.TaskID(ev.ID)}
	if p.maxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(p.maxRetry))
	}

	_, err = p.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// то же событие уже в очереди
		return nil
	}
	return err
}

func (p *AsynqPublisher) Close() error {
	return p.client.Close()
}

// NewEventTask сериализует событие в задачу asynq.
func NewEventTask(ev domain.RoomEvent) (*asynq.Task, error) {
	if ev.ID == "" || ev.RoomID == "" {
		return nil, fmt.Errorf("%w: event id and room id are required", domain.ErrInvalidInput)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return asynq.NewTask(TaskRoomEvent, payload), nil
}

// ===================== Worker =====================

type WorkerConfig struct {
	Concurrency int
	// строка вида "events=3,default=1"
	Queues string
}

// AsynqWorker читает очередь событий и пишет их в Sink.
type AsynqWorker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewAsynqWorker(opt asynq.RedisConnOpt, cfg WorkerConfig, sink Sink) *AsynqWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	queues := map[string]int{"events": 1}
	if parsed := parseQueueWeights(cfg.Queues); len(parsed) > 0 {
		queues = parsed
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      queues,
		Logger:      slogAdapter{l: slog.Default().With(slog.String("component", "asynq"))},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			slog.Error("events.AsynqWorker: task failed", slog.String("type", task.Type()), slog.Any("err", err))
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRoomEvent, HandleEventTask(sink))
	return &AsynqWorker{server: srv, mux: mux}
}

// Run запускает обработку и блокируется до отмены ctx.
func (w *AsynqWorker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

// HandleEventTask: обработчик задачи; битый payload не ретраится.
func HandleEventTask(sink Sink) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		var ev domain.RoomEvent
		if err := json.Unmarshal(t.Payload(), &ev); err != nil {
			return fmt.Errorf("unmarshal event: %v: %w", err, asynq.SkipRetry)
		}
		if ev.ID == "" || ev.RoomID == "" {
			return fmt.Errorf("event without id: %w", asynq.SkipRetry)
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now().UTC()
		}
		return sink.Append(ctx, ev)
	}
}

// parseQueueWeights parses strings like "critical=6,default=3,low=1" into a map.
func parseQueueWeights(s string) map[string]int {
	res := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		name := strings.TrimSpace(kv[0])
		if name == "" {
			continue
		}
		w := 1
		if len(kv) == 2 {
			if i, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil && i > 0 {
				w = i
			}
		}
		res[name] = w
	}
	return res
}

// slogAdapter реализует asynq.Logger поверх slog.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a slogAdapter) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
