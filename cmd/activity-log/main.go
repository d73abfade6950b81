package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/aboutevan/prello/domain"
)

// The activity log service drains the committed event feed and archives
// every change under its board, so a board's history survives the
// fire-and-forget live stream.
func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("activity log service starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	eventsQueue := os.Getenv("EVENTS_QUEUE")
	activityTable := os.Getenv("ACTIVITY_TABLE")
	if connStr == "" || eventsQueue == "" || activityTable == "" {
		log.Fatal("missing storage config")
	}

	queue, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, nil)
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}

	tSvc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		log.Fatalf("table service: %v", err)
	}
	activityClient := tSvc.NewClient(activityTable)

	ctx := context.Background()
	for {
		resp, err := queue.DequeueMessage(ctx, nil)
		if err != nil {
			log.Errorf("receive: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if len(resp.Messages) == 0 {
			time.Sleep(time.Second)
			continue
		}
		msg := resp.Messages[0]
		var ev domain.Event
		if err := sonic.UnmarshalString(*msg.MessageText, &ev); err == nil {
			archive(ctx, activityClient, ev)
		} else {
			log.Errorf("decode event: %v", err)
		}
		queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil)
	}
}

func archive(ctx context.Context, table *aztables.Client, ev domain.Event) {
	if ev.BoardID == "" || ev.ID == "" {
		return
	}
	ent := map[string]any{
		"PartitionKey": ev.BoardID,
		"RowKey":       ev.ID,
		"Kind":         ev.Kind,
		"Data":         string(ev.Data),
		"Time":         ev.Time,
	}
	payload, _ := json.Marshal(ent)
	if _, err := table.UpsertEntity(ctx, payload, nil); err != nil {
		log.Errorf("archive event %s: %v", ev.ID, err)
	}
}
