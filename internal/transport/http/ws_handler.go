package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-resume-service/internal/app"
	"quiz-resume-service/internal/domain"
)

// WSHandler streams session snapshots to the quiz UI and accepts the same
// in-progress commands as the JSON endpoints.
type WSHandler struct {
	service  *app.QuizService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizService, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and subscribes it to the device's session.
// A session is started when the device has none for the quiz yet.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	deviceID := DeviceID(r.Context())
	if quizID == "" || deviceID == "" {
		http.Error(w, "missing quizId or device", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	// The server's read timeout must not end idle subscriptions.
	_ = conn.SetReadDeadline(time.Time{})

	ctx := r.Context()
	if _, err := h.service.Session(deviceID, quizID); errors.Is(err, domain.ErrSessionNotFound) {
		if _, err := h.service.Start(ctx, deviceID, quizID); err != nil {
			_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			return
		}
	}

	updates, cancel, err := h.service.Subscribe(ctx, deviceID, quizID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches conn for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write failed", zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "session", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if err := h.dispatch(r, deviceID, quizID, inbound); err != nil {
			select {
			case send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}:
			case <-writerDone:
			}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// dispatch runs one inbound command. Resulting snapshots reach the client
// through the subscription.
func (h *WSHandler) dispatch(r *http.Request, deviceID, quizID string, msg inboundMessage) error {
	ctx := r.Context()
	switch msg.Type {
	case "answer":
		var payload answerRequest
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return errors.New("invalid answer payload")
		}
		_, err := h.service.RecordAnswer(ctx, deviceID, quizID, payload.Index, app.AnswerInput{
			Value:      payload.Value,
			TimeSpent:  time.Duration(payload.TimeSpentMS) * time.Millisecond,
			IsCorrect:  payload.IsCorrect,
			Similarity: payload.Similarity,
		})
		return err
	case "advance":
		var payload advanceRequest
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return errors.New("invalid advance payload")
		}
		_, err := h.service.Advance(ctx, deviceID, quizID, payload.Delta)
		return err
	case "complete":
		// Answers were recorded one by one; the session fills every slot.
		_, err := h.service.Complete(ctx, deviceID, quizID, []*domain.Answer{}, nil)
		return err
	default:
		return errors.New("unsupported message type")
	}
}
