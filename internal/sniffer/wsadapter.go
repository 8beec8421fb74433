package sniffer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"solsniper/internal/rpc"
	"solsniper/internal/types"
)

// WebSocketSubscriber is a concrete Subscriber (spec §6) over a single
// upstream websocket connection. It is grounded on the teacher's
// internal/websocket Hub/Client pattern, repurposed from a fan-out hub
// (many downstream clients) into a fan-in adapter (one upstream feed, one
// internal consumer) — the read pump, ping/pong deadlines, and close
// handling mirror the teacher's Client.ReadPump/WritePump almost exactly.
type WebSocketSubscriber struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ rpc.Subscriber = (*WebSocketSubscriber)(nil)

func NewWebSocketSubscriber(url string) *WebSocketSubscriber {
	return &WebSocketSubscriber{url: url}
}

// wireFrame is the upstream wire shape: a slot plus the raw transaction
// bytes, base64-decoded by the JSON unmarshaler's []byte handling.
type wireFrame struct {
	Slot uint64 `json:"slot"`
	Raw  []byte `json:"raw_tx_bytes"`
}

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 54 * time.Second
)

// Stream dials the upstream websocket and returns a channel of frames; it
// closes the channel when the connection drops so Ingress can reconnect.
func (w *WebSocketSubscriber) Stream(ctx context.Context) (<-chan rpc.Frame, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("sniffer: websocket dial: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	out := make(chan rpc.Frame, 256)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	go w.pingLoop(ctx, conn)
	go w.readLoop(conn, out)

	return out, nil
}

func (w *WebSocketSubscriber) readLoop(conn *websocket.Conn, out chan<- rpc.Frame) {
	defer close(out)
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var wf wireFrame
		if err := json.Unmarshal(message, &wf); err != nil {
			continue // malformed upstream message; drop and keep streaming
		}

		txframe, err := types.NewTxFrame(wf.Raw)
		if err != nil {
			continue // out-of-bounds frame size; dropped at ingress per spec §3
		}

		out <- rpc.Frame{Slot: wf.Slot, Bytes: txframe}
	}
}

func (w *WebSocketSubscriber) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close implements rpc.Subscriber.
func (w *WebSocketSubscriber) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}
