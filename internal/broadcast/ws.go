package broadcast

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/futureproathletes/timing-gates/internal/monitoring"
)

// DefaultWriteTimeout bounds a single frame write to a display. A client that
// cannot take a frame in this time is dropped.
const DefaultWriteTimeout = 2 * time.Second

// maxClientFrameBytes caps frames read from displays; they only ever send
// small commands.
const maxClientFrameBytes = 4 << 10

// wsSink writes frames as WebSocket text messages.
type wsSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func (s *wsSink) WriteFrame(f Frame) error {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return websocket.Message.Send(s.conn, string(f.Data))
}

func (s *wsSink) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.conn.Close() })
	return s.closeErr
}

// Handler serves display connections: it joins each WebSocket to the hub and
// passes client commands to onCommand. Only "reset" is currently defined;
// other types are ignored. onCommand must not block.
type Handler struct {
	Hub          *Hub
	OnCommand    func(ClientMessage)
	WriteTimeout time.Duration
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// websocket.Server without a Handshake accepts any Origin; displays are
	// served from the device itself or opened as local files.
	server := websocket.Server{Handler: h.serve}
	server.ServeHTTP(w, r)
}

func (h *Handler) serve(conn *websocket.Conn) {
	conn.MaxPayloadBytes = maxClientFrameBytes

	timeout := h.WriteTimeout
	if timeout == 0 {
		timeout = DefaultWriteTimeout
	}
	sink := &wsSink{conn: conn, writeTimeout: timeout}

	name := "ws"
	if req := conn.Request(); req != nil {
		name = "ws " + req.RemoteAddr
	}

	ep, err := h.Hub.Join(name, sink)
	if err != nil {
		_ = sink.Close()
		return
	}
	defer h.Hub.Leave(ep.ID())

	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-ep.Done():
				default:
					monitoring.Logf("broadcast: read from %s: %v", name, err)
				}
			}
			return
		}
		msg, err := DecodeClientMessage(data)
		if err != nil {
			monitoring.Logf("broadcast: ignoring frame from %s: %v", name, err)
			continue
		}
		if h.OnCommand != nil {
			h.OnCommand(msg)
		}
	}
}
