package emit

import "sync"

// BufferedEmitter stores events in memory, organized per conversation.
//
// Useful for development, testing, and post-execution analysis of a
// transcripted run: after a conversation finishes (or suspends), its
// emitted history can be queried and filtered.
//
// All events are kept in memory; long-lived deployments should clear
// finished conversations or use a persistent backend instead.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // conversation ID -> events
}

// HistoryFilter selects events from a conversation's history. Empty
// fields match everything; set fields combine with AND logic.
type HistoryFilter struct {
	StepName string
	Msg      string
	MinStep  *int
	MaxStep  *int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to its conversation's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ConvID] = append(b.events[event.ConvID], event)
}

// History returns a copy of all events recorded for a conversation, in
// emission order.
func (b *BufferedEmitter) History(convID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[convID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// HistoryWithFilter returns the events matching the filter, in emission
// order.
func (b *BufferedEmitter) HistoryWithFilter(convID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	result := make([]Event, 0)
	for _, event := range b.events[convID] {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

// Clear removes stored events for one conversation, or for all
// conversations when convID is empty.
func (b *BufferedEmitter) Clear(convID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if convID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, convID)
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.StepName != "" && event.StepName != filter.StepName {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinStep != nil && event.Step < *filter.MinStep {
		return false
	}
	if filter.MaxStep != nil && event.Step > *filter.MaxStep {
		return false
	}
	return true
}
