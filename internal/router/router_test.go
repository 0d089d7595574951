package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/engagetrack/internal/protocol"
)

func TestDispatch(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		msgType protocol.MessageType
		handler Handler
		want    any
	}{
		{
			name:    "result passed through",
			msgType: protocol.TypeGetTrackingStatus,
			handler: func(ctx context.Context, msg protocol.Message) (any, error) {
				return protocol.TrackingStatus{IsTracking: true, SessionID: "s1"}, nil
			},
			want: protocol.TrackingStatus{IsTracking: true, SessionID: "s1"},
		},
		{
			name:    "nil result is success",
			msgType: protocol.TypeLogout,
			handler: func(ctx context.Context, msg protocol.Message) (any, error) {
				return nil, nil
			},
			want: protocol.Result{Success: true},
		},
		{
			name:    "error becomes failure",
			msgType: protocol.TypeStartTracking,
			handler: func(ctx context.Context, msg protocol.Message) (any, error) {
				return nil, boom
			},
			want: protocol.Result{Success: false, Error: "boom"},
		},
		{
			name:    "panic becomes failure",
			msgType: protocol.TypeWebcamData,
			handler: func(ctx context.Context, msg protocol.Message) (any, error) {
				panic("nil frame")
			},
			want: protocol.Result{Success: false, Error: "handler panicked: nil frame"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			require.NoError(t, r.Handle(tt.msgType, tt.handler))

			got := r.Dispatch(context.Background(), protocol.Message{Type: tt.msgType})
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDispatchUnknownType(t *testing.T) {
	r := New()

	got := r.Dispatch(context.Background(), protocol.Message{Type: "FOO"})
	require.Equal(t, protocol.Result{Success: false, Error: "unknown message type: FOO"}, got)
}

func TestHandleDuplicate(t *testing.T) {
	r := New()
	h := func(ctx context.Context, msg protocol.Message) (any, error) { return nil, nil }

	require.NoError(t, r.Handle(protocol.TypeLogin, h))
	err := r.Handle(protocol.TypeLogin, h)
	require.ErrorIs(t, err, ErrDuplicateHandler)
	require.ElementsMatch(t, []protocol.MessageType{protocol.TypeLogin}, r.Types())
}

func TestMiddlewareOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, msg protocol.Message) (any, error) {
				mu.Lock()
				calls = append(calls, name)
				mu.Unlock()
				return next(ctx, msg)
			}
		}
	}

	r := New(record("outer"), record("inner"))
	require.NoError(t, r.Handle(protocol.TypeLogout, func(ctx context.Context, msg protocol.Message) (any, error) {
		mu.Lock()
		calls = append(calls, "handler")
		mu.Unlock()
		return nil, nil
	}))

	r.Dispatch(context.Background(), protocol.Message{Type: protocol.TypeLogout})
	require.Equal(t, []string{"outer", "inner", "handler"}, calls)
}

func TestDispatchConcurrent(t *testing.T) {
	r := New()

	var count atomic.Int64
	release := make(chan struct{})
	require.NoError(t, r.Handle(protocol.TypeTrackActivity, func(ctx context.Context, msg protocol.Message) (any, error) {
		count.Add(1)
		<-release
		return nil, nil
	}))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Dispatch(context.Background(), protocol.Message{Type: protocol.TypeTrackActivity})
		}()
	}

	// every dispatch is in its handler at once
	require.Eventually(t, func() bool { return count.Load() == 10 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
}

func TestPeerContext(t *testing.T) {
	_, ok := PeerFromContext(context.Background())
	require.False(t, ok)

	ctx := WithPeer(context.Background(), Peer{Context: "content", TabID: 7, Addr: "127.0.0.1"})
	p, ok := PeerFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, 7, p.TabID)
	require.Equal(t, "content", p.Context)
}
