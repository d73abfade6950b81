package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/aboutevan/prello/domain"
)

type fakeQueue struct {
	messages []string
	failAt   int
}

func newFakeQueue() *fakeQueue { return &fakeQueue{failAt: -1} }

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if f.failAt >= 0 && len(f.messages) == f.failAt {
		return azqueue.EnqueueMessagesResponse{}, errors.New("enqueue failure")
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestEnqueueEventsWritesOneMessagePerEvent(t *testing.T) {
	fq := newFakeQueue()
	store := &Storage{eventQueue: fq}

	events := []domain.Event{
		{ID: "e1", BoardID: "b1", Kind: domain.EventListAdded},
		{ID: "e2", BoardID: "b1", Kind: domain.EventListDeleted},
	}
	if err := store.EnqueueEvents(context.Background(), events); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(fq.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(fq.messages))
	}

	var ev domain.Event
	if err := json.Unmarshal([]byte(fq.messages[0]), &ev); err != nil {
		t.Fatalf("invalid message: %v", err)
	}
	if ev.ID != "e1" || ev.Kind != domain.EventListAdded {
		t.Fatalf("unexpected event: %#v", ev)
	}
}

func TestEnqueueEventsPropagatesErrors(t *testing.T) {
	fq := newFakeQueue()
	fq.failAt = 1
	store := &Storage{eventQueue: fq}

	events := []domain.Event{{ID: "e1"}, {ID: "e2"}, {ID: "e3"}}
	if err := store.EnqueueEvents(context.Background(), events); err == nil {
		t.Fatal("expected error")
	}
	if len(fq.messages) != 1 {
		t.Fatalf("expected enqueue to stop at the failure, got %d messages", len(fq.messages))
	}
}

func TestListEntityDecode(t *testing.T) {
	raw := []byte(`{"PartitionKey":"b1","RowKey":"l1","Name":"Backlog","Order":2}`)
	var ent listEntity
	if err := json.Unmarshal(raw, &ent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ent.PartitionKey != "b1" || ent.RowKey != "l1" || ent.Name != "Backlog" || ent.Order != 2 {
		t.Fatalf("unexpected entity: %#v", ent)
	}
}
