package eventapi

// Filter is a stateful stream transform applied to converted events before
// listener fan-out. Apply may pass the event through, rewrite it, split it
// into several events, or suppress it by returning an empty slice. Events a
// filter emits carry its id in their FilterID field.
type Filter interface {
	ID() int32
	Apply(ev Event) []Event
}

// Listener receives events fanned out by the processing pipeline. A listener
// returning an error only skips that one event; delivery continues.
type Listener interface {
	HandleEvent(ev Event) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ev Event) error

func (f ListenerFunc) HandleEvent(ev Event) error {
	return f(ev)
}
