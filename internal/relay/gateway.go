package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/metrics"
)

// ErrMissingUpstream is returned by NewGateway when no STT endpoint is configured.
var ErrMissingUpstream = errors.New("stt upstream url is not configured")

// Sink receives a copy of every upstream message. Submit must not block.
type Sink interface {
	Submit(payload string) bool
}

// Options configures the gateway.
type Options struct {
	UpstreamURL  string
	Dialer       *websocket.Dialer // nil uses a default dialer
	Sink         Sink
	MaxPending   int // frames buffered before upstream opens; 0 = unbounded
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Log          zerolog.Logger
}

// PairInfo is a diagnostic view of one live pair.
type PairInfo struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Pending int    `json:"pending_frames"`
}

// Gateway accepts client WebSocket connections and relays each one to its
// own upstream STT connection.
type Gateway struct {
	opts     Options
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	pairs  map[string]*pair
	closed bool
}

// NewGateway validates the upstream target and builds a gateway. A missing
// or malformed upstream URL is a configuration error.
func NewGateway(opts Options) (*Gateway, error) {
	if opts.UpstreamURL == "" {
		return nil, ErrMissingUpstream
	}
	u, err := url.Parse(opts.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse stt upstream url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("stt upstream url must use ws or wss, got %q", u.Scheme)
	}

	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Client auth is handled outside the relay.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: dialer,
		log:    opts.Log,
		ctx:    ctx,
		cancel: cancel,
		pairs:  make(map[string]*pair),
	}, nil
}

// ServeHTTP upgrades the request and relays it until either side closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	g.Serve(r.Context(), conn)
}

// Serve relays an already-upgraded client connection. It returns once both
// legs are closed.
func (g *Gateway) Serve(ctx context.Context, client *websocket.Conn) {
	p := newPair(g.ctx, uuid.NewString(), client, g)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		p.cancel()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
		_ = client.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		client.Close()
		g.log.Debug().Str("remote", client.RemoteAddr().String()).Msg("rejecting client, gateway closed")
		return
	}
	g.wg.Add(1)
	g.pairs[p.id] = p
	g.mu.Unlock()
	defer g.wg.Done()

	stop := context.AfterFunc(ctx, func() { p.close(reasonShutdown) })
	defer stop()
	metrics.RelayPairsOpenedTotal.Inc()
	p.log.Info().Str("remote", client.RemoteAddr().String()).Msg("client connected")

	p.run()

	g.mu.Lock()
	delete(g.pairs, p.id)
	g.mu.Unlock()
}

// Active returns the number of live pairs.
func (g *Gateway) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pairs)
}

// Pairs returns a snapshot of live pairs ordered by ID.
func (g *Gateway) Pairs() []PairInfo {
	g.mu.Lock()
	pairs := make([]*pair, 0, len(g.pairs))
	for _, p := range g.pairs {
		pairs = append(pairs, p)
	}
	g.mu.Unlock()

	out := make([]PairInfo, 0, len(pairs))
	for _, p := range pairs {
		state, pending := p.snapshot()
		out = append(out, PairInfo{ID: p.id, State: state.String(), Pending: pending})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close tears down every live pair and waits for them to finish. Clients
// arriving afterwards are turned away.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel()
	g.wg.Wait()
	g.log.Info().Msg("relay gateway closed")
}
