package engine

import (
	"sync"
	"time"
)

const (
	// subscriberBufferSize is the channel buffer for each log subscriber.
	// Lines are dropped if a subscriber falls this far behind.
	subscriberBufferSize = 64

	// backlogSize bounds the recent lines replayed to a subscriber that
	// joins a running execution.
	backlogSize = 32

	// markerRetention is how long a closed topic is remembered.
	markerRetention = 10 * time.Minute
)

// LogBroker fans out per-execution log lines to live subscribers. It is safe
// for concurrent use.
//
// A subscriber that joins a running execution first receives up to
// backlogSize of its most recent lines. Closed topics are kept as markers for
// markerRetention so that a late subscriber gets a closed channel instead of
// waiting on an execution that already finished.
type LogBroker struct {
	mu     sync.Mutex
	topics map[string]*logTopic
}

type logTopic struct {
	subs     map[int]chan string
	nextID   int
	backlog  []string
	closed   bool
	closedAt time.Time
}

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics: make(map[string]*logTopic),
	}
}

// Subscribe returns a channel of log lines for executionID and an unsubscribe
// function. The channel is closed when the execution finishes, or at once if
// it already has.
func (b *LogBroker) Subscribe(executionID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(executionID)
	ch := make(chan string, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	for _, line := range t.backlog {
		ch <- line
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a line to every subscriber of executionID and records it in
// the backlog. A subscriber with a full buffer misses the line.
func (b *LogBroker) Publish(executionID string, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(executionID)
	if t.closed {
		return
	}

	if len(t.backlog) == backlogSize {
		copy(t.backlog, t.backlog[1:])
		t.backlog = t.backlog[:backlogSize-1]
	}
	t.backlog = append(t.backlog, line)

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
			logLinesDropped.Inc()
		}
	}
}

// Close ends the stream for executionID: subscriber channels are closed and
// later Subscribe calls get a closed channel. Expired markers are pruned.
func (b *LogBroker) Close(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for id, t := range b.topics {
		if t.closed && now.Sub(t.closedAt) > markerRetention {
			delete(b.topics, id)
		}
	}

	t := b.topic(executionID)
	if t.closed {
		return
	}
	t.closed = true
	t.closedAt = now
	t.backlog = nil
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// topic returns the topic for executionID, creating it. Callers hold mu.
func (b *LogBroker) topic(executionID string) *logTopic {
	t, ok := b.topics[executionID]
	if !ok {
		t = &logTopic{subs: make(map[int]chan string)}
		b.topics[executionID] = t
	}
	return t
}
