package remotefake

import "context"

// Match returns a predicate selecting calls by name and, when non-empty, collection.
func Match(name, collection string) func(Op) bool {
	return func(op Op) bool {
		return op.Name == name && (collection == "" || op.Collection == collection)
	}
}

// FailWith returns a hook failing every call selected by match with err.
func FailWith(err error, match func(Op) bool) Hook {
	return func(ctx context.Context, op Op) error {
		if match(op) {
			return err
		}
		return ctx.Err()
	}
}

// Blocker holds selected calls until they are released one at a time.
type Blocker struct {
	match   func(Op) bool
	entered chan Op
	release chan error
}

// NewBlocker returns a Blocker for calls selected by match.
func NewBlocker(match func(Op) bool) *Blocker {
	return &Blocker{
		match:   match,
		entered: make(chan Op, 64),
		release: make(chan error),
	}
}

// Hook returns the hook to install with Backend.SetHook.
func (bl *Blocker) Hook() Hook {
	return func(ctx context.Context, op Op) error {
		if !bl.match(op) {
			return ctx.Err()
		}
		bl.entered <- op
		select {
		case err := <-bl.release:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Entered delivers each selected call as it starts waiting.
func (bl *Blocker) Entered() <-chan Op {
	return bl.entered
}

// Release lets the oldest waiting call continue. A non-nil err fails it instead.
func (bl *Blocker) Release(err error) {
	bl.release <- err
}
