package synth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/metrics"
	"github.com/snarg/scribe/internal/transcript"
)

// PublishFunc receives every transcript after a successful merge.
type PublishFunc func(t *transcript.Transcript)

// QueueStats reports the current state of the merge queues.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Invalid   int64 `json:"invalid"`
	Dropped   int64 `json:"dropped"`

	// FragmentsDropped counts dropped transcription messages. Each one is a
	// gap in some raw_text, unlike a dropped overwrite which the next update repairs.
	FragmentsDropped int64 `json:"fragments_dropped"`
}

// Options configures the synthesizer.
type Options struct {
	Store        transcript.Store
	Workers      int           // number of shards, each a single writer
	QueueSize    int           // per-shard queue capacity
	MergeTimeout time.Duration // bound on one store merge
	Publish      PublishFunc
	Now          func() time.Time
	Log          zerolog.Logger
}

// Synthesizer merges STT messages into the transcript store.
//
// Messages are routed to a shard by key hash. Each shard is drained by one
// goroutine, so merges for a key never interleave and land in delivery order.
type Synthesizer struct {
	shards  []chan transcript.StreamMessage
	store   transcript.Store
	opts    Options
	log     zerolog.Logger
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool

	completed atomic.Int64
	failed    atomic.Int64
	invalid   atomic.Int64
	dropped   atomic.Int64

	fragmentsDropped atomic.Int64
}

// NewSynthesizer creates a synthesizer. Call Start to begin merging.
func NewSynthesizer(opts Options) *Synthesizer {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.MergeTimeout <= 0 {
		opts.MergeTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	shards := make([]chan transcript.StreamMessage, opts.Workers)
	for i := range shards {
		shards[i] = make(chan transcript.StreamMessage, opts.QueueSize)
	}
	return &Synthesizer{
		shards: shards,
		store:  opts.Store,
		opts:   opts,
		log:    opts.Log,
	}
}

// Start launches one worker per shard.
func (s *Synthesizer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	for i, ch := range s.shards {
		s.wg.Add(1)
		go s.worker(i, ch)
	}
	s.log.Info().Int("workers", len(s.shards)).Int("queue_size", s.opts.QueueSize).Msg("transcript synthesizer started")
}

// Stop refuses new work, lets workers drain what is queued, and waits.
func (s *Synthesizer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for _, ch := range s.shards {
		close(ch)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().
		Int64("completed", s.completed.Load()).
		Int64("failed", s.failed.Load()).
		Int64("invalid", s.invalid.Load()).
		Int64("dropped", s.dropped.Load()).
		Msg("transcript synthesizer stopped")
}

// Submit parses a raw upstream payload and queues it for merging. It never
// blocks: invalid payloads and full queues are logged and dropped.
func (s *Synthesizer) Submit(payload string) bool {
	msg, err := transcript.ParseMessage([]byte(payload))
	if err != nil {
		s.invalid.Add(1)
		metrics.SynthMessagesTotal.WithLabelValues("invalid").Inc()
		s.log.Warn().Err(err).Int("payload_size", len(payload)).Msg("discarding stt message")
		return false
	}
	return s.Enqueue(msg)
}

// Enqueue queues a validated message. Returns false if the shard queue is
// full or the synthesizer is stopped.
func (s *Synthesizer) Enqueue(msg transcript.StreamMessage) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return false
	}

	select {
	case s.shards[s.shardFor(msg.Key())] <- msg:
		return true
	default:
		s.dropped.Add(1)
		metrics.SynthMessagesTotal.WithLabelValues("dropped").Inc()
		ev := s.log.Warn()
		if msg.Type == transcript.TypeTranscription {
			s.fragmentsDropped.Add(1)
			ev = s.log.Error()
		}
		ev.Str("session_id", msg.SessionID).
			Str("message_id", msg.MessageID).
			Str("type", string(msg.Type)).
			Msg("synth queue full, message dropped")
		return false
	}
}

// Stats returns current queue statistics.
func (s *Synthesizer) Stats() QueueStats {
	pending := 0
	for _, ch := range s.shards {
		pending += len(ch)
	}
	return QueueStats{
		Pending:   pending,
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Invalid:   s.invalid.Load(),
		Dropped:   s.dropped.Load(),

		FragmentsDropped: s.fragmentsDropped.Load(),
	}
}

// Workers returns the number of shards.
func (s *Synthesizer) Workers() int { return len(s.shards) }

func (s *Synthesizer) shardFor(key transcript.Key) int {
	h := xxhash.Sum64String(key.SessionID + "\x00" + key.MessageID)
	return int(h % uint64(len(s.shards)))
}

func (s *Synthesizer) worker(id int, ch <-chan transcript.StreamMessage) {
	defer s.wg.Done()
	log := s.log.With().Int("worker", id).Logger()

	for msg := range ch {
		if err := s.merge(log, msg); err != nil {
			s.failed.Add(1)
			metrics.SynthMessagesTotal.WithLabelValues("failed").Inc()
			log.Warn().Err(err).
				Str("session_id", msg.SessionID).
				Str("message_id", msg.MessageID).
				Str("type", string(msg.Type)).
				Msg("transcript merge failed")
		} else {
			s.completed.Add(1)
			metrics.SynthMessagesTotal.WithLabelValues("merged").Inc()
		}
	}
}

func (s *Synthesizer) merge(log zerolog.Logger, msg transcript.StreamMessage) (err error) {
	defer func() {
		if rv := recover(); rv != nil {
			log.Error().Interface("panic", rv).Msg("recovered from panic during merge")
			err = errors.New("panic during merge")
		}
	}()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.MergeTimeout)
	defer cancel()

	t, err := s.store.Merge(ctx, msg.Key(), transcript.MergeMessage(msg, s.opts.Now))
	if err != nil {
		return err
	}
	metrics.SynthMergeDuration.Observe(time.Since(start).Seconds())

	log.Debug().
		Str("session_id", msg.SessionID).
		Str("message_id", msg.MessageID).
		Str("type", string(msg.Type)).
		Int("raw_len", len(t.RawText)).
		Msg("transcript merged")

	if s.opts.Publish != nil {
		s.opts.Publish(t)
	}
	return nil
}
