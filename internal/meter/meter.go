// Package meter streams live channel amplitudes to websocket clients.
//
// A [Broadcaster] samples every channel of a [Source] once per interval and
// pushes the resulting [Frame] as a JSON text message to each connected
// client. Slow clients skip frames instead of stalling the others.
package meter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/samplechan/pkg/audio"
	"github.com/MrWong99/samplechan/pkg/audio/channel"
)

const (
	defaultInterval = 50 * time.Millisecond
	writeTimeout    = 2 * time.Second
	clientBuffer    = 4
)

// Source lists the channels to meter. [*channel.Manager] satisfies it.
type Source interface {
	Channels() []*channel.SampleChannel
}

// ChannelSnapshot is the state of one channel at frame time.
type ChannelSnapshot struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Playing    bool             `json:"playing"`
	Amplitudes audio.Amplitudes `json:"amplitudes"`
}

// Frame is one message sent to meter clients.
type Frame struct {
	Time     time.Time         `json:"time"`
	Channels []ChannelSnapshot `json:"channels"`
}

// Option configures a [Broadcaster].
type Option func(*Broadcaster)

// WithInterval sets the time between frames.
func WithInterval(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithLogger sets the broadcaster's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithOriginPatterns allows cross-origin websocket upgrades from hosts
// matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Broadcaster) { b.origins = append(b.origins, patterns...) }
}

// Broadcaster fans out amplitude frames to websocket clients. It implements
// [http.Handler]; [Broadcaster.Run] drives the frame clock.
type Broadcaster struct {
	src      Source
	interval time.Duration
	logger   *slog.Logger
	origins  []string

	mu      sync.Mutex
	clients map[chan Frame]struct{}
}

// New creates a Broadcaster over src.
func New(src Source, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		src:      src,
		interval: defaultInterval,
		logger:   slog.Default(),
		clients:  make(map[chan Frame]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Snapshot samples every channel now.
func (b *Broadcaster) Snapshot() Frame {
	channels := b.src.Channels()
	f := Frame{
		Time:     time.Now(),
		Channels: make([]ChannelSnapshot, 0, len(channels)),
	}
	for _, c := range channels {
		f.Channels = append(f.Channels, ChannelSnapshot{
			ID:         c.ID(),
			Name:       c.Name(),
			Playing:    c.Playing(),
			Amplitudes: c.CurrentAmplitudes(),
		})
	}
	return f
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Run publishes a frame every interval until ctx is done. Frames are only
// built while at least one client is connected.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.Clients() == 0 {
				continue
			}
			b.publish(b.Snapshot())
		}
	}
}

func (b *Broadcaster) publish(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- f:
		default:
			// Client is behind; it gets the next frame.
		}
	}
}

func (b *Broadcaster) subscribe() chan Frame {
	ch := make(chan Frame, clientBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) unsubscribe(ch chan Frame) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
}

// ServeHTTP upgrades the request to a websocket and streams frames until the
// client disconnects. The first frame is sent immediately.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: b.origins,
	})
	if err != nil {
		b.logger.Warn("meter: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients never send; CloseRead handles control frames and cancels ctx
	// once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	frames := b.subscribe()
	defer b.unsubscribe(frames)
	b.logger.Debug("meter: client connected", "remote", r.RemoteAddr)

	if err := b.write(ctx, conn, b.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			b.logger.Debug("meter: client disconnected", "remote", r.RemoteAddr)
			return
		case f := <-frames:
			if err := b.write(ctx, conn, f); err != nil {
				return
			}
		}
	}
}

func (b *Broadcaster) write(ctx context.Context, conn *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	err := wsjson.Write(ctx, conn, f)
	if err != nil && !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
		b.logger.Debug("meter: write failed", "err", err)
	}
	return err
}
