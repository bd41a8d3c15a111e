package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/foodhub/pkg/event"
)

// DefaultBufferSize はAsyncWriterのキューの既定長。
const DefaultBufferSize = 1024

// writeTimeout は1件の書き込みに許される最大時間。
const writeTimeout = 5 * time.Second

var (
	// ErrBufferFull はキューが満杯でイベントを破棄した場合のエラー。
	ErrBufferFull = errors.New("ジャーナルのキューが満杯です")
	// ErrWriterClosed はClose後に追記しようとした場合のエラー。
	ErrWriterClosed = errors.New("ジャーナルの書き込みは停止しています")
)

// Appender はイベントを1件ずつ永続化する。
type Appender interface {
	Append(ctx context.Context, e *event.Event) error
}

// queued はキューの1要素。flushedがnilでなければFlushの目印として扱う。
type queued struct {
	event   *event.Event
	flushed chan struct{}
}

// AsyncWriter はイベントをキューに積み、単一のgoroutineで順番に書き込む。
// Appendは書き込みを待たずに戻るため、ディスクが遅くてもリクエスト処理は止まらない。
// キューが満杯の場合は待たずにErrBufferFullを返してイベントを破棄する。
type AsyncWriter struct {
	store  Appender
	logger *zap.Logger
	queue  chan queued
	done   chan struct{}

	// mu はclosedとqueueのcloseを保護する。送信側は読み取りロックを持つ。
	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewAsyncWriter は書き込み用のgoroutineを起動したAsyncWriterを返す。
// sizeが0以下の場合はDefaultBufferSizeを使う。
func NewAsyncWriter(store Appender, logger *zap.Logger, size int) *AsyncWriter {
	if size <= 0 {
		size = DefaultBufferSize
	}
	w := &AsyncWriter{
		store:  store,
		logger: logger,
		queue:  make(chan queued, size),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Append はイベントをキューに積む。書き込みの完了は待たない。
func (w *AsyncWriter) Append(_ context.Context, e *event.Event) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}

	select {
	case w.queue <- queued{event: e}:
		return nil
	default:
		w.dropped.Add(1)
		return ErrBufferFull
	}
}

// Flush は呼び出し時点までにキューへ積まれたイベントの書き込み完了を待つ。
// Close後は何もせずに戻る。
func (w *AsyncWriter) Flush(ctx context.Context) error {
	marker := make(chan struct{})

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil
	}
	select {
	case w.queue <- queued{flushed: marker}:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close は新規の受け付けを止め、キューに残ったイベントを書き終えるまで待つ。
// 2回目以降の呼び出しは何もしない。
func (w *AsyncWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	<-w.done
	return nil
}

// Dropped はキュー満杯で破棄したイベント数を返す。
func (w *AsyncWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Failed は書き込みに失敗したイベント数を返す。
func (w *AsyncWriter) Failed() int64 {
	return w.failed.Load()
}

func (w *AsyncWriter) run() {
	defer close(w.done)

	for item := range w.queue {
		if item.flushed != nil {
			close(item.flushed)
			continue
		}
		w.write(item.event)
	}
}

func (w *AsyncWriter) write(e *event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := w.store.Append(ctx, e); err != nil {
		w.failed.Add(1)
		w.logger.Error("ジャーナルへの書き込みに失敗",
			zap.String("event_id", e.ID),
			zap.String("request_id", e.RequestID),
			zap.String("event_type", string(e.EventType)),
			zap.Error(err),
		)
	}
}
