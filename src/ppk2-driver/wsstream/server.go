// Package wsstream broadcasts reduced power samples to WebSocket clients
// and advertises the endpoint over mDNS, so a companion application on the
// local network can observe a running measurement without polling.
package wsstream

import (
	"net/http"
	"sync"
	"time"

	"github.com/cskr/pubsub"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nrfconnect/ppk2-driver/src/ppk2-driver/ppk2"
)

// topic is the sole pubsub topic this package uses: every connected client
// subscribes to it and receives every published sample.
const topic = "samples"

// writeDeadline bounds how long a single WebSocket write may block a
// slow or stalled client before it is treated as an error.
const writeDeadline = 50 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// sample is the wire representation of a ppk2.ChunkMatch.
type sample struct {
	Matched   bool    `json:"matched"`
	MicroAmps float32 `json:"microAmps,omitempty"`
	Pins      *string `json:"pins,omitempty"`
}

func toWire(c ppk2.ChunkMatch) sample {
	if !c.Matched {
		return sample{Matched: false}
	}
	pins := pinsString(c.Measurement.Pins)
	return sample{Matched: true, MicroAmps: c.Measurement.MicroAmps, Pins: &pins}
}

func pinsString(pins ppk2.LogicPortPins) string {
	b := make([]byte, len(pins))
	for i, p := range pins {
		if p == ppk2.High {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}

// Server fans a stream of ppk2.ChunkMatch values out to any number of
// WebSocket clients.
type Server struct {
	broker *pubsub.PubSub
	log    *logrus.Entry
}

// NewServer creates a Server. Publish must be driven by the caller (from
// an ActiveSession's Samples channel, typically) for clients to receive
// anything.
func NewServer(log *logrus.Entry) *Server {
	return &Server{broker: pubsub.New(64), log: log}
}

// Publish makes c available to every currently connected client. It never
// blocks: a client too slow to keep up simply misses samples.
func (s *Server) Publish(c ppk2.ChunkMatch) {
	s.broker.TryPub(toWire(c), topic)
}

// Shutdown releases the broker's resources and disconnects all clients.
func (s *Server) Shutdown() {
	s.broker.Shutdown()
}

// ServeHTTP upgrades the request to a WebSocket and streams every
// subsequently published sample to it as a JSON text frame, until the
// client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithField("clientAddress", r.RemoteAddr)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Error("wsstream: could not upgrade connection")
		http.Error(w, "WebSocket upgrade error", http.StatusBadRequest)
		return
	}
	log.Info("wsstream: client connected")

	rx := s.broker.Sub(topic)
	defer s.broker.Unsub(rx)

	var writeMu sync.Mutex
	send := func(v sample) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		return conn.WriteJSON(&v)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			conn.Close()
			log.Info("wsstream: client disconnected")
			return
		case msg, ok := <-rx:
			if !ok {
				log.WithError(ppk2.ErrChannelClosed).Info("wsstream: broker shut down, disconnecting client")
				conn.Close()
				return
			}
			v, ok := msg.(sample)
			if !ok {
				continue
			}
			if err := send(v); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Warn("wsstream: write error")
				}
				conn.Close()
				return
			}
		}
	}
}
