package core

import "context"

// Handle wraps one isolated execution context. A handle runs at most one
// task at a time; the result arrives through the OnMessage callback, and a
// failure of the context itself through OnError.
type Handle interface {
	ID() string
	Send(task *Task) error
	OnMessage(fn func(*TaskResult))
	OnError(fn func(error))
	Terminate() error
}

// Provider creates execution contexts. ref identifies the bootstrap the
// context runs, its meaning is provider specific.
type Provider interface {
	Spawn(ctx context.Context, ref string) (Handle, error)
}
