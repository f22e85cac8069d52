// Package ws binds the trade protocol to gorilla websockets: one connection
// per player, reliable and ordered, which is the FIFO delivery the session
// protocol assumes.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tradepost.gg/internal/metrics"
	"tradepost.gg/internal/protocol"
	"tradepost.gg/internal/trade"
)

const (
	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
	defaultOutQueue  = 64
	maxOutQueue      = 256
)

type Server struct {
	registry *trade.Registry
	log      zerolog.Logger
	metrics  *metrics.Metrics
	outQueue int

	upgrader websocket.Upgrader
}

func NewServer(registry *trade.Registry, logger zerolog.Logger, m *metrics.Metrics, outQueue int) *Server {
	if outQueue <= 0 {
		outQueue = defaultOutQueue
	}
	return &Server{
		registry: registry,
		log:      logger,
		metrics:  m,
		outQueue: outQueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// chanSink adapts a buffered channel to trade.Sink. Send never blocks; a
// full queue drops the frame and the next full-state broadcast resyncs the
// client.
type chanSink struct {
	out chan []byte
}

func (c *chanSink) Send(b []byte) {
	select {
	case c.out <- b:
	default:
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		playerID, sink := s.handshake(conn)
		if playerID == "" {
			return
		}
		s.metrics.PlayerConnected()
		s.log.Debug().Str("player", playerID).Msg("connected")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sink.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.handleFrame(sink, playerID, msg)
		}

		s.registry.Detach(playerID, sink)
		s.metrics.PlayerDisconnected()
		s.log.Debug().Str("player", playerID).Msg("disconnected")
	}
}

func (s *Server) handleFrame(sink *chanSink, playerID string, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.pushError(sink, "", protocol.ErrProtoBadRequest, "malformed JSON")
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.pushError(sink, "", protocol.ErrProtoBadRequest, "bad protocol_version")
		return
	}

	switch base.Type {
	case protocol.TypeTradeRequest:
		var req protocol.TradeRequestMsg
		if err := json.Unmarshal(msg, &req); err != nil || req.TargetID == "" {
			s.pushError(sink, "", protocol.ErrProtoBadRequest, "bad TRADE_REQUEST")
			return
		}
		s.report(sink, "", s.registry.Request(playerID, req.TargetID))

	case protocol.TypeTradeAccept, protocol.TypeTradeDecline:
		var ans protocol.TradeAnswerMsg
		if err := json.Unmarshal(msg, &ans); err != nil || ans.InitiatorID == "" {
			s.pushError(sink, "", protocol.ErrProtoBadRequest, "bad trade answer")
			return
		}
		if base.Type == protocol.TypeTradeAccept {
			s.report(sink, "", s.registry.Accept(playerID, ans.InitiatorID))
		} else {
			s.report(sink, "", s.registry.Decline(playerID, ans.InitiatorID))
		}

	case protocol.TypeTradeAddItem, protocol.TypeTradeRemoveItem, protocol.TypeTradeSetGold,
		protocol.TypeTradeLock, protocol.TypeTradeUnlock, protocol.TypeTradeConfirm, protocol.TypeTradeCancel:
		var act protocol.TradeActMsg
		if err := json.Unmarshal(msg, &act); err != nil || act.SessionID == "" {
			s.pushError(sink, "", protocol.ErrProtoBadRequest, "bad session message")
			return
		}
		s.report(sink, act.SessionID, s.registry.Dispatch(playerID, act))

	default:
		s.pushError(sink, "", protocol.ErrProtoBadRequest, "unknown message type")
	}
}

// report turns a registry rejection into a TRADE_ERROR for the sender only.
// Accepted messages answer through registry broadcasts, never here.
func (s *Server) report(sink *chanSink, sessionID string, err error) {
	if err == nil {
		return
	}
	if rj, ok := err.(*trade.Reject); ok {
		s.pushError(sink, sessionID, rj.Code, rj.Message)
		return
	}
	s.log.Error().Err(err).Msg("message handling failed")
	s.pushError(sink, sessionID, protocol.ErrInternal, "internal error")
}

// pushError queues a TRADE_ERROR on the sender's own outbound stream so it
// is ordered with the broadcasts that same connection is receiving. Direct
// conn writes happen only during the handshake, before the writer starts.
func (s *Server) pushError(sink *chanSink, sessionID, code, message string) {
	b, err := json.Marshal(protocol.TradeErrorMsg{
		Type:      protocol.TypeTradeError,
		SessionID: sessionID,
		Code:      code,
		Message:   message,
	})
	if err != nil {
		return
	}
	sink.Send(b)
}

func (s *Server) handshake(conn *websocket.Conn) (playerID string, sink *chanSink) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if hello.PlayerID == "" {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "missing player_id"), time.Now().Add(time.Second))
		return "", nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = s.outQueue
	}
	if maxQ > maxOutQueue {
		maxQ = maxOutQueue
	}
	sink = &chanSink{out: make(chan []byte, maxQ)}

	limits := s.registry.Limits()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        hello.PlayerID,
		Limits: protocol.TradeLimits{
			MaxGoldPerTrade: limits.MaxGoldPerTrade,
			MaxItemStacks:   limits.MaxItemStacks,
			MaxQtyPerItem:   limits.MaxQtyPerItem,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}

	s.registry.Attach(hello.PlayerID, hello.PlayerName, sink)
	return hello.PlayerID, sink
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
