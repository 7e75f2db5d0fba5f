package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/annotations"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventJoinDocument     = "join-document"
	eventLeaveDocument    = "leave-document"
	eventNewAnnotation    = "new-annotation"
	eventDeleteAnnotation = "delete-annotation"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 64 * 1024
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is handled by the CORS layer; the upgrade itself
	// accepts any origin, matching the REST surface.
	CheckOrigin: func(*http.Request) bool { return true },
}

type inboundFrame struct {
	Event        string             `json:"event"`
	DocumentID   string             `json:"documentId"`
	AnnotationID string             `json:"annotationId"`
	Payload      *annotationPayload `json:"payload"`
}

type annotationPayload struct {
	DocumentID   string `json:"documentId"`
	UserID       string `json:"userId"`
	SelectedText string `json:"selectedText"`
	Comment      string `json:"comment"`
	StartIndex   int    `json:"startIndex"`
	EndIndex     int    `json:"endIndex"`
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	socket, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := &wsSession{
		socket:     socket,
		connection: h.hub.Connect(),
		handler:    h,
		done:       make(chan struct{}),
	}
	go session.writePump()
	session.readPump()
}

type wsSession struct {
	socket     *websocket.Conn
	connection *HubConnection
	handler    *httpHandler
	done       chan struct{}
}

// readPump consumes inbound frames until the socket closes. Closing the hub
// connection afterwards removes the session from every joined room;
// operations already dispatched keep running to completion.
func (s *wsSession) readPump() {
	defer func() {
		s.connection.Close()
		close(s.done)
		_ = s.socket.Close()
	}()

	s.socket.SetReadLimit(wsMaxMessageSize)
	_ = s.socket.SetReadDeadline(time.Now().Add(wsPongWait))
	s.socket.SetPongHandler(func(string) error {
		return s.socket.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := s.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.handler.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		s.dispatch(raw)
	}
}

func (s *wsSession) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-s.connection.Stream():
			_ = s.socket.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.socket.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsSession) dispatch(raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.sendError("malformed event payload")
		return
	}

	switch frame.Event {
	case eventJoinDocument:
		if frame.DocumentID == "" {
			s.sendError("documentId is required")
			return
		}
		s.connection.Join(frame.DocumentID)
	case eventLeaveDocument:
		s.connection.Leave(frame.DocumentID)
	case eventNewAnnotation:
		s.handleCreate(frame.Payload)
	case eventDeleteAnnotation:
		s.handleDelete(frame.AnnotationID)
	default:
		s.sendError("unknown event: " + frame.Event)
	}
}

func (s *wsSession) handleCreate(payload *annotationPayload) {
	if payload == nil {
		s.sendError("annotation payload is required")
		return
	}
	// A disconnect must not cancel an operation already accepted for
	// processing, so the request context is deliberately not derived from
	// the socket lifetime.
	ctx := context.Background()
	request, err := s.handler.buildCreateRequest(ctx, *payload)
	if err != nil {
		s.sendError(clientMessage(err))
		return
	}
	if _, err := s.handler.annotations.Create(ctx, request); err != nil {
		// Room delivery for the success path is the use case's broadcast;
		// only the originating connection hears about failures.
		s.sendError(clientMessage(err))
	}
}

func (s *wsSession) handleDelete(annotationID string) {
	if annotationID == "" {
		s.sendError("annotationId is required")
		return
	}
	if err := s.handler.annotations.Delete(context.Background(), annotationID); err != nil {
		s.sendError(clientMessage(err))
	}
}

func (s *wsSession) sendError(message string) {
	s.connection.Send(RoomMessage{Event: EventAnnotationError, Message: message})
}

// clientMessage maps use-case failures onto the messages the client protocol
// exposes. Duplicate and not-found keep their dedicated texts so clients can
// special-case them.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, annotations.ErrDuplicateRange):
		return "Duplicate annotation detected"
	case errors.Is(err, annotations.ErrNotFound):
		return "Annotation not found"
	case errors.Is(err, annotations.ErrCountDrift):
		return "Annotation stored but the document counter needs reconciliation"
	case errors.Is(err, annotations.ErrInvalidInput):
		return err.Error()
	default:
		return "annotation operation failed"
	}
}
