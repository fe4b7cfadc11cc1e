package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"meeting-transcription-service/internal/observability/logging"
	"meeting-transcription-service/internal/service/session"
)

const writeTimeout = 10 * time.Second

// conn is the slice of the websocket connection the protocol loop needs.
// Narrowed for tests.
type conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Handler upgrades recording connections and speaks the session protocol:
// one session per connection, client messages in, session events out.
type Handler struct {
	registry *session.Registry
	log      zerolog.Logger
}

// NewHandler creates the recording WebSocket handler.
func NewHandler(registry *session.Registry) *Handler {
	return &Handler{
		registry: registry,
		log:      logging.WithComponent("ws"),
	}
}

// ServeHTTP upgrades the connection and runs the protocol loop until the
// session finishes or the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	h.serve(r.Context(), c)
	c.Close(websocket.StatusNormalClosure, "session closed")
}

// serve runs the per-connection protocol loop. Outbound traffic goes through
// a single writer goroutine so session events and protocol errors never
// interleave mid-frame.
func (h *Handler) serve(ctx context.Context, c conn) {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	out := make(chan session.Event, 32)

	// Writes survive read-loop teardown: the completed event must still
	// reach the client after the reader stops.
	writeCtx := context.WithoutCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range out {
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error().Err(err).Msg("Failed to marshal event")
				continue
			}
			wctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
			err = c.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				cancelRead()
				for range out {
					// Drain so event senders never block on a dead peer.
				}
				return
			}
		}
	}()

	var (
		sess      *session.Session
		relayDone chan struct{}
		ended     bool
	)

	for {
		typ, data, err := c.Read(readCtx)
		if err != nil {
			break
		}

		// Binary frames are raw audio, no envelope. They get the same
		// treatment as JSON audio messages: the session layer decides
		// whether the state still accepts them.
		if typ == websocket.MessageBinary {
			if sess == nil {
				out <- errEvent("no active session")
				continue
			}
			if err := h.registry.AcceptAudio(readCtx, sess.ID(), data); err != nil {
				out <- errEvent(err.Error())
			}
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			out <- errEvent("invalid message: not valid JSON")
			continue
		}

		switch msg.Type {
		case msgStart:
			if sess != nil {
				out <- errEvent("session already started")
				continue
			}
			roster, err := msg.rosterNames()
			if err != nil {
				out <- errEvent(err.Error())
				continue
			}
			s, err := h.registry.Create(readCtx, session.Params{
				Title:    msg.Title,
				Language: msg.Language,
				Roster:   roster,
			})
			if err != nil {
				out <- errEvent(err.Error())
				continue
			}
			sess = s
			relayDone = make(chan struct{})
			go func() {
				defer close(relayDone)
				for ev := range s.Events() {
					out <- ev
				}
				// Terminal session: nothing more will ever arrive,
				// stop reading.
				cancelRead()
			}()

		case msgAudio:
			if sess == nil {
				out <- errEvent("no active session")
				continue
			}
			frame, err := msg.audioFrame()
			if err != nil {
				out <- errEvent(err.Error())
				continue
			}
			if err := h.registry.AcceptAudio(readCtx, sess.ID(), frame); err != nil {
				out <- errEvent(err.Error())
			}

		case msgTranscription:
			if sess == nil {
				out <- errEvent("no active session")
				continue
			}
			if msg.Text == "" {
				out <- errEvent("transcription text is empty")
				continue
			}
			if err := h.registry.AcceptTranscript(readCtx, sess.ID(), msg.Text); err != nil {
				out <- errEvent(err.Error())
			}

		case msgSpeakerMapping:
			// Allowed even after end: pending tags may still resolve
			// while the session drains.
			if sess == nil {
				out <- errEvent("no active session")
				continue
			}
			if msg.SpeakerName == "" {
				out <- errEvent("speakerName is required")
				continue
			}
			if err := h.registry.ResolveMapping(readCtx, sess.ID(), msg.SpeakerTag, msg.SpeakerName); err != nil {
				out <- errEvent(err.Error())
			}

		case msgEnd:
			if sess == nil {
				out <- errEvent("no active session")
				continue
			}
			if !ended {
				ended = true
				if err := h.registry.End(readCtx, sess.ID()); err != nil {
					out <- errEvent(err.Error())
				}
			}

		default:
			out <- errEvent("unknown message type: " + msg.Type)
		}
	}

	if sess != nil {
		h.registry.Abandon(sess.ID())
		<-relayDone
	}
	close(out)
	<-writerDone
}

func errEvent(msg string) session.Event {
	return session.Event{Type: session.EventError, Message: msg}
}
