package workflow

import "sync"

// EventKind names a tree mutation.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventRemoved EventKind = "removed"
	EventRenamed EventKind = "renamed"
	EventLoaded  EventKind = "loaded"
	EventSaved   EventKind = "saved"
)

// Event describes one mutation of the authoring tree. Node is zero for
// whole-tree events.
type Event struct {
	Kind EventKind
	Node NodeID
	// Path is the slash path of the node after the mutation, or before it
	// for removals.
	Path string
	Name string
}

// Listener observes tree mutations, typically to refresh a view.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Session holds the per-editor state that outlives single calls. Callers own
// one Session per open workflow.
type Session struct {
	mu        sync.Mutex
	dirty     bool
	listeners []Listener
}

// MarkDirty records an unsaved change.
func (s *Session) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// MarkClean records that the tree matches what is on disk.
func (s *Session) MarkClean() {
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
}

// Dirty reports whether there are unsaved changes.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Subscribe registers l for future events.
func (s *Session) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Publish delivers e to every listener in registration order.
func (s *Session) Publish(e Event) {
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l.OnEvent(e)
	}
}
