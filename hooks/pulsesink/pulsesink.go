// Package pulsesink implements a hooks.Subscriber that mirrors every
// published event onto a per-run goa.design/pulse stream backed by Redis,
// modeled on the teacher's features/stream/pulse wrapper (client.go,
// sink.go): a narrow Client/Stream interface over the real
// goa.design/pulse/streaming package, built so a remote dashboard or a
// second process can tail a run's event stream without sharing this
// process's in-memory hooks.Bus.
package pulsesink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/coopersmall/agentruntime/hooks"
)

type (
	// Options configures the sink.
	Options struct {
		// Redis is the connection used to back Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds the number of entries kept per run stream.
		// Zero uses Pulse's default.
		StreamMaxLen int
		// OperationTimeout bounds each publish call. Zero means no timeout.
		OperationTimeout time.Duration
	}

	// Sink publishes hooks.Event values onto Pulse streams named
	// "agentruntime/run/<runID>", one stream per run, opened lazily on
	// first use and cached for the lifetime of the Sink.
	Sink struct {
		redis   *redis.Client
		maxLen  int
		timeout time.Duration

		mu      sync.Mutex
		streams map[string]*streaming.Stream
	}

	// envelope is the JSON payload published for every event: the fields
	// every subscriber needs to route or display the event without
	// decoding the concrete hooks.Event type.
	envelope struct {
		Type      string      `json:"type"`
		RunID     string      `json:"run_id"`
		AgentID   string      `json:"agent_id"`
		Timestamp int64       `json:"timestamp"`
		Event     hooks.Event `json:"event"`
	}
)

// New constructs a Sink backed by the provided Redis connection.
func New(opts Options) (*Sink, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulsesink: redis client is required")
	}
	return &Sink{
		redis:   opts.Redis,
		maxLen:  opts.StreamMaxLen,
		timeout: opts.OperationTimeout,
		streams: make(map[string]*streaming.Stream),
	}, nil
}

// HandleEvent implements hooks.Subscriber, publishing event to its run's
// Pulse stream.
func (s *Sink) HandleEvent(ctx context.Context, event hooks.Event) error {
	stream, err := s.streamFor(event.RunID())
	if err != nil {
		return err
	}

	payload, err := json.Marshal(envelope{
		Type:      string(event.Type()),
		RunID:     event.RunID(),
		AgentID:   event.AgentID(),
		Timestamp: event.Timestamp(),
		Event:     event,
	})
	if err != nil {
		return fmt.Errorf("pulsesink: encode event: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := stream.Add(ctx, string(event.Type()), payload); err != nil {
		return fmt.Errorf("pulsesink: publish event: %w", err)
	}
	return nil
}

// streamFor returns the cached stream for runID, opening it on first use.
func (s *Sink) streamFor(runID string) (*streaming.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stream, ok := s.streams[runID]; ok {
		return stream, nil
	}

	var opts []streamopts.Stream
	if s.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(s.maxLen))
	}
	stream, err := streaming.NewStream("agentruntime/run/"+runID, s.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulsesink: open stream for run %q: %w", runID, err)
	}
	s.streams[runID] = stream
	return stream, nil
}

// Forget destroys runID's Pulse stream and drops it from the cache, for
// callers that want to reclaim Redis memory once a run's terminal event has
// been observed by every reader.
func (s *Sink) Forget(ctx context.Context, runID string) error {
	s.mu.Lock()
	stream, ok := s.streams[runID]
	if ok {
		delete(s.streams, runID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return stream.Destroy(ctx)
}

var _ hooks.Subscriber = (*Sink)(nil)
