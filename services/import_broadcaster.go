package services

import (
	"fmt"
	"sync"
	"time"
)

// AggregateImportTopic is the shared channel dashboard consumers subscribe
// to. It carries started and terminal events for every import, plus
// throttled progress updates.
const AggregateImportTopic = "admin_imports"

const (
	ImportEventStarted   = "started"
	ImportEventProgress  = "progress_update"
	ImportEventCompleted = "completed"
	ImportEventFailed    = "failed"
)

// ImportTopic returns the per-import topic name for an import id.
func ImportTopic(importID uint) string {
	return fmt.Sprintf("import_%d", importID)
}

type ImportEventData struct {
	ImportID          uint      `json:"import_id"`
	Status            string    `json:"status"`
	Progress          int       `json:"progress"`
	TotalRows         int       `json:"total_rows"`
	Percentage        int       `json:"percentage"`
	ErrorMessage      *string   `json:"error_message,omitempty"`
	FileName          string    `json:"file_name"`
	CreatedAt         time.Time `json:"created_at"`
	SuccessfulImports *int      `json:"successful_imports,omitempty"`
	FailedImports     *int      `json:"failed_imports,omitempty"`
	RecentErrors      []string  `json:"recent_errors,omitempty"`
}

type ImportEvent struct {
	Type string `json:"type"`
	// Channel names the per-import topic on aggregate-topic events so a
	// dashboard can deep-link to the granular stream.
	Channel string          `json:"channel,omitempty"`
	Data    ImportEventData `json:"data"`
}

// ImportBroadcaster is an in-process topic fan-out. Publishing never blocks:
// a subscriber that cannot keep up drops updates rather than stalling the
// pipeline; the persisted import record remains the source of truth.
type ImportBroadcaster struct {
	mu     sync.RWMutex
	topics map[string][]chan ImportEvent
}

func NewImportBroadcaster() *ImportBroadcaster {
	return &ImportBroadcaster{
		topics: make(map[string][]chan ImportEvent),
	}
}

// Subscribe registers a listener on a topic. The returned channel is
// buffered; it is closed by CloseTopic or Unsubscribe.
func (b *ImportBroadcaster) Subscribe(topic string) chan ImportEvent {
	ch := make(chan ImportEvent, 16)
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *ImportBroadcaster) Unsubscribe(topic string, ch chan ImportEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, sub := range subs {
		if sub == ch {
			b.topics[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish delivers an event to every listener on a topic without blocking.
func (b *ImportBroadcaster) Publish(topic string, event ImportEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.topics[topic] {
		select {
		case ch <- event:
		default:
			// Listener is slow, skip this update
		}
	}
}

// CloseTopic closes all listener channels on a topic and forgets it. Called
// after the terminal event of an import has been published.
func (b *ImportBroadcaster) CloseTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.topics[topic] {
		close(ch)
	}
	delete(b.topics, topic)
}

// BroadcastImportEvent publishes to the per-import topic unconditionally and
// to the aggregate topic subject to the throttling rule: progress updates
// reach the aggregate topic only when the percentage is an exact multiple of
// ten or equals one hundred, bounding aggregate volume per import.
func (b *ImportBroadcaster) BroadcastImportEvent(eventType string, data ImportEventData) {
	topic := ImportTopic(data.ImportID)
	b.Publish(topic, ImportEvent{Type: eventType, Data: data})

	if eventType == ImportEventProgress && data.Percentage%10 != 0 && data.Percentage != 100 {
		return
	}
	b.Publish(AggregateImportTopic, ImportEvent{Type: eventType, Channel: topic, Data: data})
}
