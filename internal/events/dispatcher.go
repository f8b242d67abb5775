// Package events доставляет события аудита комнаты после commit.
// Доставка best-effort: потеря события не откатывает join.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/mainroom-service/internal/domain"
)

var (
	ErrQueueFull = errors.New("events: queue is full")
	ErrClosed    = errors.New("events: dispatcher is closed")
)

// Sink: конечное хранилище событий (EventRepository).
type Sink interface {
	Append(ctx context.Context, ev domain.RoomEvent) error
}

// Dispatcher: буферизированная in-process очередь с одним писателем в Sink.
type Dispatcher struct {
	sink         Sink
	queue        chan domain.RoomEvent
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(sink Sink, buffer int, writeTimeout time.Duration) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Dispatcher{
		sink:         sink,
		queue:        make(chan domain.RoomEvent, buffer),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// Append не блокирует вызывающего: при полном буфере событие отклоняется.
func (d *Dispatcher) Append(_ context.Context, ev domain.RoomEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run пишет события в Sink до отмены ctx, затем дописывает остаток буфера.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case ev := <-d.queue:
			d.write(ev)
		case <-ctx.Done():
			d.mu.Lock()
			d.closed = true
			d.mu.Unlock()
			d.drain()
			return
		}
	}
}

// Wait ждёт завершения Run.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.write(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) write(ev domain.RoomEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
	defer cancel()

	if err := d.sink.Append(ctx, ev); err != nil {
		slog.Error("events.Dispatcher: append",
			slog.String("event_id", ev.ID),
			slog.String("room_id", ev.RoomID),
			slog.String("event_type", string(ev.Type)),
			slog.Any("err", err))
	}
}
