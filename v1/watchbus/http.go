package watchbus

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// keepAlive is how often an idle stream sends a heartbeat so proxies keep the
// connection open during long rounds.
var keepAlive = 15 * time.Second

// pump forwards payloads from ch to send until ch closes, ctx ends or send
// fails. beat is called whenever the stream has been idle for keepAlive.
func pump(ctx context.Context, ch <-chan []byte, send func([]byte) error, beat func() error) {
	tick := time.NewTicker(keepAlive)
	defer tick.Stop()
	for {
		select {
		case msg, ok := <-ch:
			if !ok || send(msg) != nil {
				return
			}
			tick.Reset(keepAlive)
		case <-tick.C:
			if beat() != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// SSEHandler streams the payloads published on key as Server-Sent Events.
// Every event carries an increasing id.
func SSEHandler(bus WatchBus, key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "stream unsupported", http.StatusInternalServerError)
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		ch, err := bus.Watch(ctx, key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer func() { _ = bus.Unwatch(context.Background(), key, ch) }()

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		var seq uint64
		write := func(format string, args ...any) error {
			if _, err := fmt.Fprintf(w, format, args...); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}
		pump(ctx, ch,
			func(msg []byte) error {
				seq++
				return write("data: %s\nid: %d\n\n", msg, seq)
			},
			func() error { return write(": ping\n\n") },
		)
	}
}

var upgrader = websocket.Upgrader{}

// WebSocketHandler streams the payloads published on key as text messages.
// Anything the client sends is discarded.
func WebSocketHandler(bus WatchBus, key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		ch, err := bus.Watch(ctx, key)
		if err != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error())
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
		defer func() { _ = bus.Unwatch(context.Background(), key, ch) }()

		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		pump(ctx, ch,
			func(msg []byte) error { return conn.WriteMessage(websocket.TextMessage, msg) },
			func() error {
				return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			},
		)
	}
}
