package live

import (
	"sync"

	"github.com/rs/zerolog"
)

// QueueSink is a buffered playback sink: model audio is queued in order and
// drained by a single writer goroutine. Stop flushes whatever has not been
// written yet, which is how interruptions cut the voice mid-sentence.
type QueueSink struct {
	write  func(pcm []byte)
	logger zerolog.Logger

	mu      sync.Mutex
	queue   [][]byte
	wake    chan struct{}
	closed  bool
	done    chan struct{}
	started bool
}

// NewQueueSink creates a sink that hands drained audio to write. The write
// function owns the actual device or transport.
func NewQueueSink(write func(pcm []byte), logger zerolog.Logger) *QueueSink {
	return &QueueSink{
		write:  write,
		logger: logger.With().Str("component", "playback").Logger(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Play queues an audio chunk for ordered playback.
func (q *QueueSink) Play(pcm []byte) {
	if len(pcm) == 0 {
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, pcm)
	if !q.started {
		q.started = true
		go q.drain()
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Stop drops all queued audio immediately.
func (q *QueueSink) Stop() {
	q.mu.Lock()
	dropped := len(q.queue)
	q.queue = nil
	q.mu.Unlock()

	if dropped > 0 {
		q.logger.Debug().Int("chunks", dropped).Msg("Playback queue flushed")
	}
}

// Close stops playback and releases the drain goroutine.
func (q *QueueSink) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.queue = nil
	started := q.started
	q.mu.Unlock()

	close(q.done)
	if !started {
		return nil
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *QueueSink) drain() {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		var chunk []byte
		if len(q.queue) > 0 {
			chunk = q.queue[0]
			q.queue = q.queue[1:]
		}
		q.mu.Unlock()

		if chunk == nil {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		q.write(chunk)
	}
}
