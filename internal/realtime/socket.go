package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// pongWait bounds how long a socket may go without answering a ping.
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second // must be < pongWait
	writeWait  = 10 * time.Second
	maxMsgSize = 4 * 1024 // clients only send pongs and tiny control frames
	sendBuffer = 256
)

// Socket is one claw's push connection. All writes funnel through the send
// channel into writePump, the only goroutine that touches the conn; enqueue
// never blocks, a full buffer drops the frame.
type Socket struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  zerolog.Logger
}

func newSocket(conn *websocket.Conn, log zerolog.Logger) *Socket {
	return &Socket{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log:  log,
	}
}

// enqueue hands a frame to the write pump. Returns false when the socket is
// closed or its buffer is full; callers treat both as a dead socket.
func (s *Socket) enqueue(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Socket) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// close shuts the socket down exactly once.
func (s *Socket) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// writePump owns every write to the conn: queued frames, pings, and the
// close frame.
func (s *Socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Debug().Err(err).Msg("socket write failed")
				return
			}
			// Flush whatever queued while we were writing.
			n := len(s.send)
			for i := 0; i < n; i++ {
				if err := s.conn.WriteMessage(websocket.TextMessage, <-s.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump is the only reader. The push protocol is one-directional, so
// inbound data frames are drained and dropped; reads exist to service pongs
// and detect the peer going away.
func (s *Socket) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMsgSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Debug().Err(err).Msg("socket read failed")
			}
			return
		}
	}
}

// Gateway upgrades authenticated requests to push sockets and binds them to
// the claw the request authenticated as.
type Gateway struct {
	reg      Registrar
	identify func(*http.Request) string
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewGateway builds the websocket endpoint. identify extracts the
// authenticated claw id from the request; an empty return rejects the
// upgrade. In production only the listed origins may connect, elsewhere any
// origin is accepted.
func NewGateway(reg Registrar, identify func(*http.Request) string, allowedOrigins, environment string, log zerolog.Logger) *Gateway {
	return &Gateway{
		reg:      reg,
		identify: identify,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     buildCheckOrigin(allowedOrigins, environment, log),
		},
		log: log.With().Str("component", "realtime_gateway").Logger(),
	}
}

func buildCheckOrigin(allowedOrigins, environment string, log zerolog.Logger) func(*http.Request) bool {
	if environment == "production" && allowedOrigins != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedOrigins, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		return func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed[origin] {
				return true
			}
			log.Warn().Str("origin", origin).Msg("socket origin rejected")
			return false
		}
	}
	if environment == "production" {
		log.Warn().Msg("ALLOWED_ORIGINS unset in production, accepting all socket origins")
	}
	return func(*http.Request) bool { return true }
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clawID := g.identify(r)
	if clawID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("socket upgrade failed")
		return
	}

	sock := newSocket(conn, g.log.With().Str("claw_id", clawID).Logger())
	if err := g.reg.Register(r.Context(), clawID, sock); err != nil {
		g.log.Error().Err(err).Str("claw_id", clawID).Msg("socket register failed")
		sock.close()
		return
	}
	g.log.Debug().Str("claw_id", clawID).Msg("socket connected")

	go sock.writePump()
	go func() {
		sock.readPump()
		g.reg.Unregister(context.Background(), clawID, sock)
		g.log.Debug().Str("claw_id", clawID).Msg("socket disconnected")
	}()
}
