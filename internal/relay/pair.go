package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/metrics"
)

// State is the lifecycle position of a client/upstream pair.
type State int

const (
	// StateConnectingUpstream: upstream dial in progress, client frames are queued.
	StateConnectingUpstream State = iota
	// StateHandshakePending: upstream open, waiting for the first client text frame.
	StateHandshakePending
	// StateStreaming: upstream open and handshake sent; frames pass straight through.
	StateStreaming
	// StateClosed: both legs torn down.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnectingUpstream:
		return "CONNECTING_UPSTREAM"
	case StateHandshakePending:
		return "HANDSHAKE_PENDING"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Close reasons, used for logs and the pairs_closed_total label.
const (
	reasonClientClosed        = "client_closed"
	reasonUpstreamClosed      = "upstream_closed"
	reasonUpstreamDialFailed  = "upstream_dial_failed"
	reasonUpstreamWriteFailed = "upstream_write_failed"
	reasonClientWriteFailed   = "client_write_failed"
	reasonPendingOverflow     = "pending_overflow"
	reasonShutdown            = "shutdown"
)

// pair relays one client connection to its own upstream connection.
//
// Upstream writes happen only while holding mu, which keeps the handshake,
// the pending flush and live frames in arrival order. Client writes happen
// only on the upstream read goroutine.
type pair struct {
	id       string
	client   *websocket.Conn
	upstream atomic.Pointer[websocket.Conn]
	gw       *Gateway

	// rawUpstream is the network connection under the upstream leg, kept
	// from the moment it is dialed so close can abort a stalled handshake.
	rawMu       sync.Mutex
	rawUpstream net.Conn
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	handshakeDone bool
	pending       *pendingQueue

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func newPair(ctx context.Context, id string, client *websocket.Conn, gw *Gateway) *pair {
	ctx, cancel := context.WithCancel(ctx)
	return &pair{
		id:      id,
		client:  client,
		gw:      gw,
		log:     gw.log.With().Str("pair_id", id).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateConnectingUpstream,
		pending: newPendingQueue(gw.opts.MaxPending),
		done:    make(chan struct{}),
	}
}

// run drives the pair until either leg terminates. It returns once every
// goroutine owned by the pair has exited.
func (p *pair) run() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.connectUpstream()
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-p.ctx.Done():
			p.close(reasonShutdown)
		case <-p.done:
		}
	}()

	p.readClient()
	p.wg.Wait()
}

func (p *pair) snapshot() (State, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.pending.len()
}

// connectUpstream dials the STT backend, flushes queued frames and then
// becomes the upstream read loop.
func (p *pair) connectUpstream() {
	dialer := p.upstreamDialer()
	dialCtx, cancel := context.WithTimeout(p.ctx, p.gw.opts.DialTimeout)
	conn, resp, err := dialer.DialContext(dialCtx, p.gw.opts.UpstreamURL, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if p.isClosed() {
			p.log.Debug().Err(err).Msg("upstream dial aborted")
			return
		}
		p.log.Warn().Err(err).Msg("upstream dial failed")
		p.close(reasonUpstreamDialFailed)
		return
	}

	p.upstream.Store(conn)
	if p.isClosed() {
		// close() may have run before the pointer was published.
		conn.Close()
		return
	}
	p.log.Info().Msg("connected to stt upstream")

	if err := p.onUpstreamOpen(conn); err != nil {
		p.log.Warn().Err(err).Msg("flushing pending frames failed")
		p.close(reasonUpstreamWriteFailed)
		return
	}

	p.readUpstream(conn)
}

// upstreamDialer copies the gateway dialer and hooks its network dial so the
// raw connection is recorded on the pair. The WebSocket handshake only honours
// the context deadline, not cancellation, so close needs the conn itself.
func (p *pair) upstreamDialer() *websocket.Dialer {
	d := *p.gw.dialer
	if d.NetDialTLSContext != nil {
		d.NetDialTLSContext = p.trackDial(d.NetDialTLSContext)
	}
	next := d.NetDialContext
	if next == nil && d.NetDial != nil {
		netDial := d.NetDial
		next = func(_ context.Context, network, addr string) (net.Conn, error) {
			return netDial(network, addr)
		}
	}
	if next == nil {
		next = (&net.Dialer{}).DialContext
	}
	d.NetDial = nil
	d.NetDialContext = p.trackDial(next)
	return &d
}

type dialFunc = func(ctx context.Context, network, addr string) (net.Conn, error)

func (p *pair) trackDial(next dialFunc) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		p.rawMu.Lock()
		defer p.rawMu.Unlock()
		if p.isClosed() {
			conn.Close()
			return nil, net.ErrClosed
		}
		p.rawUpstream = conn
		return conn, nil
	}
}

func (p *pair) onUpstreamOpen(conn *websocket.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return nil
	}

	if p.handshakeDone {
		p.state = StateStreaming
	} else {
		p.state = StateHandshakePending
	}

	frames := p.pending.drain()
	if len(frames) > 0 {
		metrics.RelayPendingFlushed.Observe(float64(len(frames)))
		p.log.Debug().Int("frames", len(frames)).Msg("flushing pending frames to upstream")
	}
	for _, f := range frames {
		if err := p.writeUpstream(conn, f); err != nil {
			return err
		}
	}
	return nil
}

// readClient is the client → upstream direction.
func (p *pair) readClient() {
	for {
		mt, data, err := p.client.ReadMessage()
		if err != nil {
			if !p.isClosed() {
				p.logReadError(err, "client")
			}
			p.close(reasonClientClosed)
			return
		}

		if reason, err := p.handleClientFrame(Frame{Type: mt, Data: data}); err != nil {
			p.log.Warn().Err(err).Str("reason", reason).Msg("relaying client frame failed")
			p.close(reason)
			return
		}
	}
}

func (p *pair) handleClientFrame(f Frame) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateClosed {
		return "", nil
	}

	if !p.handshakeDone {
		if f.Type != websocket.TextMessage {
			metrics.RelayFramesDroppedTotal.Inc()
			p.log.Debug().Int("size", len(f.Data)).Msg("dropping binary frame received before handshake")
			return "", nil
		}
		p.handshakeDone = true
		p.log.Debug().Msg("handshake frame received")
		if p.state == StateHandshakePending {
			p.state = StateStreaming
		}
	}

	if p.state == StateStreaming {
		if err := p.writeUpstream(p.upstream.Load(), f); err != nil {
			return reasonUpstreamWriteFailed, err
		}
		return "", nil
	}

	if err := p.pending.push(f); err != nil {
		return reasonPendingOverflow, err
	}
	return "", nil
}

// writeUpstream must be called with mu held.
func (p *pair) writeUpstream(conn *websocket.Conn, f Frame) error {
	if conn == nil {
		return errors.New("upstream not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(p.gw.opts.WriteTimeout))
	if err := conn.WriteMessage(f.Type, f.Data); err != nil {
		return err
	}
	metrics.RelayFramesTotal.WithLabelValues("client_to_upstream", f.kind()).Inc()
	return nil
}

// readUpstream is the upstream → client direction. Every frame is passed to
// the client verbatim; text frames also go to the sink.
func (p *pair) readUpstream(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !p.isClosed() {
				p.logReadError(err, "upstream")
			}
			p.close(reasonUpstreamClosed)
			return
		}

		p.client.SetWriteDeadline(time.Now().Add(p.gw.opts.WriteTimeout))
		if err := p.client.WriteMessage(mt, data); err != nil {
			p.log.Warn().Err(err).Msg("writing to client failed")
			p.close(reasonClientWriteFailed)
			return
		}
		metrics.RelayFramesTotal.WithLabelValues("upstream_to_client", Frame{Type: mt}.kind()).Inc()

		if mt == websocket.TextMessage {
			p.submit(string(data))
		}
	}
}

// submit hands a payload to the sink. Sink failures never reach the relay.
func (p *pair) submit(payload string) {
	if p.gw.opts.Sink == nil {
		return
	}
	defer func() {
		if rv := recover(); rv != nil {
			p.log.Error().Interface("panic", rv).Msg("recovered from panic in transcript sink")
		}
	}()
	p.gw.opts.Sink.Submit(payload)
}

func (p *pair) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// close tears down both legs exactly once, whichever side triggered it.
func (p *pair) close(reason string) {
	p.closeOnce.Do(func() {
		close(p.done)
		p.cancel()

		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = p.client.WriteControl(websocket.CloseMessage, msg, deadline)
		p.client.Close()
		if up := p.upstream.Load(); up != nil {
			_ = up.WriteControl(websocket.CloseMessage, msg, deadline)
			up.Close()
		}
		p.rawMu.Lock()
		if p.rawUpstream != nil {
			p.rawUpstream.Close()
		}
		p.rawMu.Unlock()

		p.mu.Lock()
		p.state = StateClosed
		dropped := p.pending.len()
		p.pending.reset()
		p.mu.Unlock()

		metrics.RelayPairsClosedTotal.WithLabelValues(reason).Inc()
		p.log.Info().Str("reason", reason).Int("discarded_frames", dropped).Msg("relay pair closed")
	})
}

func (p *pair) logReadError(err error, leg string) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		p.log.Info().Str("leg", leg).Msg("connection closed")
		return
	}
	p.log.Warn().Err(err).Str("leg", leg).Msg("connection error")
}
