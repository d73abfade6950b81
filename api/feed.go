package api

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/aboutevan/prello/domain"
)

var (
	feedOnce       sync.Once
	feedJobs       chan domain.Event
	feedWorkers    int
	feedBuf        int
	feedTimeout    time.Duration
	handoffTimeout time.Duration
	feedBG         = context.Background()
	feedStore      Storage
	feedLog        *log.Logger
	feedWG         sync.WaitGroup
)

// shutdownEventFeed stops worker goroutines and clears shared state. It is intended for tests.
func shutdownEventFeed() {
	if feedJobs != nil {
		close(feedJobs)
		feedJobs = nil
	}

	feedWG.Wait()

	feedStore = nil
	feedLog = nil
	feedWorkers = 0
	feedBuf = 0
	feedTimeout = 0
	handoffTimeout = 0
	feedOnce = sync.Once{}
	feedWG = sync.WaitGroup{}
}

func initEventFeed(store Storage, log *log.Logger) {
	feedOnce.Do(func() {
		feedStore = store
		if log == nil {
			panic("Logger is not initialized")
		}
		feedLog = log

		feedWorkers = envInt("FEED_WORKERS", 8)
		feedBuf = envInt("FEED_BUFFER", 4096)
		feedTimeout = envDur("FEED_TIMEOUT", 60*time.Second)
		handoffTimeout = envDur("FEED_HANDOFF_TIMEOUT", 15*time.Millisecond)

		feedJobs = make(chan domain.Event, feedBuf)
		for i := 0; i < feedWorkers; i++ {
			feedWG.Add(1)
			go feedWorker(i, feedJobs)
		}
		feedLog.Infof("event feed started, workers: %d, buffer: %d, timeout: %v, handoff: %v", feedWorkers, feedBuf, feedTimeout, handoffTimeout)
	})
}

func feedWorker(id int, jobCh <-chan domain.Event) {
	defer feedWG.Done()
	for ev := range jobCh {
		ctx, cancel := context.WithTimeout(feedBG, feedTimeout)
		err := feedStore.EnqueueEvents(ctx, []domain.Event{ev})
		cancel()

		if err != nil {
			feedLog.Errorf("event feed enqueue failed, err: %v, board: %s, kind: %s, worker: %d", err, ev.BoardID, ev.Kind, id)
		}
	}
}

// enqueueFeedEvent hands a committed change over to the feed workers.
// When the pool is saturated or not running the event is enqueued
// inline so downstream consumers never miss a committed change.
func enqueueFeedEvent(boardID, kind string, payload any) {
	if feedStore == nil {
		return
	}

	data, err := sonic.Marshal(payload)
	if err != nil {
		feedLog.Errorf("event feed marshal failed, err: %v, board: %s, kind: %s", err, boardID, kind)
		return
	}
	ev := domain.Event{
		ID:      uuid.NewString(),
		BoardID: boardID,
		Kind:    kind,
		Data:    data,
		Time:    time.Now().UnixMilli(),
	}

	if tryFeedJob(ev) {
		return
	}

	ctx, cancel := context.WithTimeout(feedBG, feedTimeout)
	defer cancel()
	if err := feedStore.EnqueueEvents(ctx, []domain.Event{ev}); err != nil {
		feedLog.Errorf("inline event feed enqueue failed, err: %v, board: %s, kind: %s", err, boardID, kind)
	}
}

func tryFeedJob(ev domain.Event) bool {
	if feedJobs == nil {
		return false
	}

	if ok, closed := trySendNonBlocking(feedJobs, ev); closed {
		return false
	} else if ok {
		return true
	}

	if handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(handoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(feedJobs, ev, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan domain.Event, ev domain.Event) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan domain.Event, ev domain.Event, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	case <-timer:
		return false, false
	}
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDur(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
