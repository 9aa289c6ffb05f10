// Package watchbus streams opaque payloads, such as harness progress
// snapshots, to watchers of a key. Local watchers use InMemory, watchers in
// other processes follow a Redis stream, and HTTP clients attach through the
// SSE and WebSocket handlers.
package watchbus

import "context"

// WatchBus delivers published payloads to the watchers of a key.
type WatchBus interface {
	// Publish sends data to every watcher of key.
	Publish(ctx context.Context, key string, data []byte) error
	// Watch returns a channel receiving payloads for key until ctx is done or
	// Unwatch is called, after which the channel is closed.
	Watch(ctx context.Context, key string) (<-chan []byte, error)
	// Unwatch stops delivery to ch and closes it.
	Unwatch(ctx context.Context, key string, ch <-chan []byte) error
}

const watchBuffer = 16
