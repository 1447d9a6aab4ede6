package emit

// Emitter receives observability events from conversation execution.
//
// Implementations should be non-blocking, safe for concurrent use (a
// parallel MapStep emits from multiple goroutines), and resilient: an
// emitter must never panic or fail the workflow because a backend is
// down.
type Emitter interface {
	// Emit delivers one event. Errors are handled internally.
	Emit(event Event)
}
