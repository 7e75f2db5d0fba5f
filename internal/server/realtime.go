package server

import (
	"sync"

	"github.com/MarcoPoloResearchLab/marginalia/internal/annotations"
)

const (
	EventAnnotationAdded   = "annotation-added"
	EventAnnotationDeleted = "annotation-deleted"
	EventAnnotationError   = "annotation-error"
)

// RoomMessage is one outbound realtime event.
type RoomMessage struct {
	Event        string                  `json:"event"`
	DocumentID   string                  `json:"documentId,omitempty"`
	Annotation   *annotations.Annotation `json:"annotation,omitempty"`
	AnnotationID string                  `json:"annotationId,omitempty"`
	Message      string                  `json:"message,omitempty"`
}

// RoomHub maintains one broadcast group per document and fans confirmed
// state changes out to every connection currently joined to that document.
// Delivery is best-effort: a slow consumer's full buffer drops the message
// rather than blocking the publisher.
type RoomHub struct {
	mu          sync.RWMutex
	rooms       map[string]map[int64]*HubConnection
	connections map[int64]*HubConnection
	nextID      int64
	bufferSize  int
}

// HubConnection is one logical subscriber with its own outbound stream. A
// connection may join any number of rooms; closing it leaves them all.
type HubConnection struct {
	id     int64
	hub    *RoomHub
	stream chan RoomMessage
	rooms  map[string]struct{} // guarded by hub.mu
}

// NewRoomHub constructs an empty hub.
func NewRoomHub() *RoomHub {
	return &RoomHub{
		rooms:       make(map[string]map[int64]*HubConnection),
		connections: make(map[int64]*HubConnection),
		bufferSize:  16,
	}
}

// Connect registers a new connection with the hub.
func (h *RoomHub) Connect() *HubConnection {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	connection := &HubConnection{
		id:     h.nextID,
		hub:    h,
		stream: make(chan RoomMessage, h.bufferSize),
		rooms:  make(map[string]struct{}),
	}
	h.connections[connection.id] = connection
	return connection
}

// PublishCreated fans a stored annotation out to the document's room.
func (h *RoomHub) PublishCreated(documentID string, annotation annotations.Annotation) {
	stored := annotation
	h.publish(documentID, RoomMessage{
		Event:      EventAnnotationAdded,
		DocumentID: documentID,
		Annotation: &stored,
	})
}

// PublishDeleted fans an annotation deletion out to the document's room.
func (h *RoomHub) PublishDeleted(documentID, annotationID string) {
	h.publish(documentID, RoomMessage{
		Event:        EventAnnotationDeleted,
		DocumentID:   documentID,
		AnnotationID: annotationID,
	})
}

func (h *RoomHub) publish(documentID string, message RoomMessage) {
	if documentID == "" || message.Event == "" {
		return
	}
	h.mu.RLock()
	members := h.rooms[documentID]
	if len(members) == 0 {
		h.mu.RUnlock()
		return
	}
	copies := make([]*HubConnection, 0, len(members))
	for _, member := range members {
		copies = append(copies, member)
	}
	h.mu.RUnlock()
	for _, member := range copies {
		select {
		case member.stream <- message:
		default:
		}
	}
}

// Stream exposes the connection's outbound events.
func (c *HubConnection) Stream() <-chan RoomMessage {
	return c.stream
}

// Join subscribes the connection to a document's room. Joining a room twice
// is a no-op; a closed connection cannot join.
func (c *HubConnection) Join(documentID string) {
	if documentID == "" {
		return
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if _, registered := c.hub.connections[c.id]; !registered {
		return
	}
	room, ok := c.hub.rooms[documentID]
	if !ok {
		room = make(map[int64]*HubConnection)
		c.hub.rooms[documentID] = room
	}
	room[c.id] = c
	c.rooms[documentID] = struct{}{}
}

// Leave unsubscribes the connection from a document's room.
func (c *HubConnection) Leave(documentID string) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.leaveLocked(documentID)
}

// Send delivers a message to this connection only, with the same best-effort
// policy as room publishes. Used for sender-scoped error events.
func (c *HubConnection) Send(message RoomMessage) {
	select {
	case c.stream <- message:
	default:
	}
}

// Close removes the connection from every room it had joined and from the
// hub. In-flight publishes holding a reference may still attempt a
// non-blocking send; the stream is never closed so that is safe.
func (c *HubConnection) Close() {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	for documentID := range c.rooms {
		c.leaveLocked(documentID)
	}
	delete(c.hub.connections, c.id)
}

func (c *HubConnection) leaveLocked(documentID string) {
	room := c.hub.rooms[documentID]
	if room != nil {
		delete(room, c.id)
		if len(room) == 0 {
			delete(c.hub.rooms, documentID)
		}
	}
	delete(c.rooms, documentID)
}
