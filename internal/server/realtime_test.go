package server

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/annotations"
)

func TestRoomHubPublishesToJoinedConnection(t *testing.T) {
	hub := NewRoomHub()
	connection := hub.Connect()
	defer connection.Close()
	connection.Join("doc-1")

	hub.PublishCreated("doc-1", annotations.Annotation{ID: "ann-1", DocumentID: "doc-1"})

	select {
	case received := <-connection.Stream():
		if received.Event != EventAnnotationAdded {
			t.Fatalf("expected event %s, got %s", EventAnnotationAdded, received.Event)
		}
		if received.Annotation == nil || received.Annotation.ID != "ann-1" {
			t.Fatalf("unexpected annotation payload: %#v", received.Annotation)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected room message within deadline")
	}
}

func TestRoomHubIsolatedByDocument(t *testing.T) {
	hub := NewRoomHub()
	first := hub.Connect()
	defer first.Close()
	second := hub.Connect()
	defer second.Close()
	first.Join("doc-a")
	second.Join("doc-b")

	hub.PublishDeleted("doc-b", "ann-9")

	select {
	case <-first.Stream():
		t.Fatal("did not expect message in unrelated room")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case message := <-second.Stream():
		if message.Event != EventAnnotationDeleted {
			t.Fatalf("expected event %s, got %s", EventAnnotationDeleted, message.Event)
		}
		if message.AnnotationID != "ann-9" {
			t.Fatalf("expected annotation id ann-9, got %s", message.AnnotationID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected room message for joined document")
	}
}

func TestRoomHubLeaveStopsDelivery(t *testing.T) {
	hub := NewRoomHub()
	connection := hub.Connect()
	defer connection.Close()
	connection.Join("doc-1")
	connection.Leave("doc-1")

	hub.PublishCreated("doc-1", annotations.Annotation{ID: "ann-1", DocumentID: "doc-1"})

	select {
	case <-connection.Stream():
		t.Fatal("did not expect message after leaving the room")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRoomHubCloseLeavesAllRooms(t *testing.T) {
	hub := NewRoomHub()
	connection := hub.Connect()
	connection.Join("doc-1")
	connection.Join("doc-2")
	connection.Close()

	hub.PublishCreated("doc-1", annotations.Annotation{ID: "ann-1", DocumentID: "doc-1"})
	hub.PublishDeleted("doc-2", "ann-2")

	select {
	case <-connection.Stream():
		t.Fatal("did not expect delivery to a closed connection")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRoomHubJoinAfterCloseIsIgnored(t *testing.T) {
	hub := NewRoomHub()
	connection := hub.Connect()
	connection.Close()
	connection.Join("doc-1")

	hub.PublishCreated("doc-1", annotations.Annotation{ID: "ann-1", DocumentID: "doc-1"})

	select {
	case <-connection.Stream():
		t.Fatal("closed connection must not rejoin rooms")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRoomHubFullBufferDropsInsteadOfBlocking(t *testing.T) {
	hub := NewRoomHub()
	connection := hub.Connect()
	defer connection.Close()
	connection.Join("doc-1")

	// One more publish than the stream buffers; the publisher must return.
	done := make(chan struct{})
	go func() {
		for i := 0; i <= hub.bufferSize; i++ {
			hub.PublishDeleted("doc-1", "ann")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow consumer")
	}
}

func TestHubConnectionSendReachesOnlyThatConnection(t *testing.T) {
	hub := NewRoomHub()
	sender := hub.Connect()
	defer sender.Close()
	observer := hub.Connect()
	defer observer.Close()
	sender.Join("doc-1")
	observer.Join("doc-1")

	sender.Send(RoomMessage{Event: EventAnnotationError, Message: "Duplicate annotation detected"})

	select {
	case message := <-sender.Stream():
		if message.Event != EventAnnotationError {
			t.Fatalf("expected error event, got %s", message.Event)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected error event on the originating connection")
	}

	select {
	case <-observer.Stream():
		t.Fatal("error events must not reach other room members")
	case <-time.After(200 * time.Millisecond):
	}
}
