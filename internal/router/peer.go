package router

import "context"

type contextKey string

const peerContextKey contextKey = "peer"

// Peer identifies the extension context a message arrived from.
type Peer struct {
	Context string // content, popup or host
	TabID   int
	Addr    string
}

// WithPeer stores p in the context.
func WithPeer(ctx context.Context, p Peer) context.Context {
	return context.WithValue(ctx, peerContextKey, p)
}

// PeerFromContext returns the peer stored by WithPeer, if any.
func PeerFromContext(ctx context.Context) (Peer, bool) {
	p, ok := ctx.Value(peerContextKey).(Peer)
	return p, ok
}
