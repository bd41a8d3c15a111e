package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nao1215/foodhub/pkg/event"
)

// gatedAppender はgateが開くまで書き込みを止めるAppender。
type gatedAppender struct {
	gate chan struct{}
	err  error

	mu  sync.Mutex
	ids []string
}

func newGatedAppender(open bool) *gatedAppender {
	a := &gatedAppender{gate: make(chan struct{})}
	if open {
		close(a.gate)
	}
	return a
}

func (a *gatedAppender) Append(ctx context.Context, e *event.Event) error {
	select {
	case <-a.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, e.ID)
	return a.err
}

func (a *gatedAppender) written() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.ids...)
}

func TestAsyncWriter(t *testing.T) {
	t.Parallel()

	t.Run("追記した順にすべて書き込まれFlushで完了を待てること", func(t *testing.T) {
		t.Parallel()

		store := newGatedAppender(true)
		w := NewAsyncWriter(store, zaptest.NewLogger(t), 16)
		t.Cleanup(func() { _ = w.Close() })

		var want []string
		for range 5 {
			e := newEvent(t, event.TypeForwardSucceeded, time.Now())
			want = append(want, e.ID)
			require.NoError(t, w.Append(context.Background(), e))
		}

		require.NoError(t, w.Flush(context.Background()))
		assert.Equal(t, want, store.written())
	})

	t.Run("書き込みが詰まっていてもAppendは待たずに戻ること", func(t *testing.T) {
		t.Parallel()

		store := newGatedAppender(false)
		w := NewAsyncWriter(store, zaptest.NewLogger(t), 2)
		t.Cleanup(func() {
			close(store.gate)
			_ = w.Close()
		})

		// 1件目は書き込み中で止まり、残り2件でキューが埋まる
		events := make([]*event.Event, 10)
		for i := range events {
			events[i] = newEvent(t, event.TypeForwardFailed, time.Now())
		}
		var errs []error
		done := make(chan struct{})
		go func() {
			defer close(done)
			for _, e := range events {
				errs = append(errs, w.Append(context.Background(), e))
			}
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Appendがブロックしました")
		}

		var full int
		for _, err := range errs {
			if errors.Is(err, ErrBufferFull) {
				full++
			}
		}
		assert.GreaterOrEqual(t, full, 7)
		assert.Equal(t, int64(full), w.Dropped())
	})

	t.Run("Closeはキューに残ったイベントを書き終えてから戻ること", func(t *testing.T) {
		t.Parallel()

		store := newGatedAppender(false)
		w := NewAsyncWriter(store, zaptest.NewLogger(t), 8)
		for range 3 {
			require.NoError(t, w.Append(context.Background(), newEvent(t, event.TypeForwardSucceeded, time.Now())))
		}

		close(store.gate)
		require.NoError(t, w.Close())
		assert.Len(t, store.written(), 3)

		assert.ErrorIs(t, w.Append(context.Background(), newEvent(t, event.TypeForwardSucceeded, time.Now())), ErrWriterClosed)
		assert.NoError(t, w.Flush(context.Background()))
		assert.NoError(t, w.Close())
	})

	t.Run("書き込みの失敗は数えられ後続の書き込みは続くこと", func(t *testing.T) {
		t.Parallel()

		store := newGatedAppender(true)
		store.err = errors.New("disk full")
		w := NewAsyncWriter(store, zaptest.NewLogger(t), 8)
		t.Cleanup(func() { _ = w.Close() })

		for range 2 {
			require.NoError(t, w.Append(context.Background(), newEvent(t, event.TypeForwardFailed, time.Now())))
		}
		require.NoError(t, w.Flush(context.Background()))
		assert.Equal(t, int64(2), w.Failed())
		assert.Len(t, store.written(), 2)
	})

	t.Run("Flushはコンテキストのキャンセルで戻ること", func(t *testing.T) {
		t.Parallel()

		store := newGatedAppender(false)
		w := NewAsyncWriter(store, zaptest.NewLogger(t), 8)
		t.Cleanup(func() {
			close(store.gate)
			_ = w.Close()
		})
		require.NoError(t, w.Append(context.Background(), newEvent(t, event.TypeForwardSucceeded, time.Now())))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, w.Flush(ctx), context.DeadlineExceeded)
	})

	t.Run("Storeと組み合わせて書き込んだイベントを読めること", func(t *testing.T) {
		t.Parallel()

		s := openTestStore(t)
		w := NewAsyncWriter(s, zaptest.NewLogger(t), 0)
		t.Cleanup(func() { _ = w.Close() })

		require.NoError(t, w.Append(context.Background(), newEvent(t, event.TypeCascadeExhausted, time.Now())))
		require.NoError(t, w.Flush(context.Background()))

		got, err := s.Recent(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, event.TypeCascadeExhausted, got[0].EventType)
	})
}
