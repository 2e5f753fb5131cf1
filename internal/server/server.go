// Package server exposes the engine over a websocket endpoint: situation
// ingestion, status queries, and recommendations.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/solverlab/rtcfr/engine"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server serves the engine API over websockets.
type Server struct {
	engine *engine.Engine
	logger zerolog.Logger
	http   *http.Server
	addr   string
}

// New wires the server; it does not listen until Run.
func New(addr string, eng *engine.Engine, logger zerolog.Logger) *Server {
	s := &Server{
		engine: eng,
		logger: logger.With().Str("component", "server").Logger(),
		addr:   addr,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Run listens until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("client connected")

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("read failed")
			}
			return
		}

		reply := s.dispatch(&msg, logger)
		reply.RequestID = msg.RequestID
		if err := conn.WriteJSON(reply); err != nil {
			logger.Warn().Err(err).Msg("write failed")
			return
		}
	}
}

func (s *Server) dispatch(msg *Message, logger zerolog.Logger) *Message {
	switch msg.Type {
	case MessageTypeSubmit:
		var data SubmitData
		if err := unmarshalData(msg, &data); err != nil {
			return errorMessage(err)
		}
		if err := s.engine.SubmitSituations(data.Situations); err != nil {
			return errorMessage(err)
		}
		reply, err := NewMessage(MessageTypeAck, AckData{Accepted: len(data.Situations)})
		if err != nil {
			return errorMessage(err)
		}
		return reply

	case MessageTypeStatus:
		reply, err := NewMessage(MessageTypeStatus, StatusData{
			Training:   s.engine.TrainingStatus(),
			Storage:    s.engine.StorageStatus(),
			Generation: s.engine.GenerationStats(),
		})
		if err != nil {
			return errorMessage(err)
		}
		return reply

	case MessageTypeRecommend:
		var data RecommendData
		if err := unmarshalData(msg, &data); err != nil {
			return errorMessage(err)
		}
		reply, err := NewMessage(MessageTypeRecommend, s.engine.Recommendation(data.Situation))
		if err != nil {
			return errorMessage(err)
		}
		return reply

	default:
		logger.Warn().Str("type", string(msg.Type)).Msg("unknown message type")
		return errorMessage(fmt.Errorf("unknown message type %q", msg.Type))
	}
}

func unmarshalData(msg *Message, out interface{}) error {
	if len(msg.Data) == 0 {
		return errors.New("missing message data")
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("malformed %s data: %w", msg.Type, err)
	}
	return nil
}

func errorMessage(err error) *Message {
	msg, mkErr := NewMessage(MessageTypeError, ErrorData{Error: err.Error()})
	if mkErr != nil {
		return &Message{Type: MessageTypeError, Timestamp: time.Now()}
	}
	return msg
}
