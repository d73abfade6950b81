package api

import (
	"context"
	"errors"
	"sort"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/aboutevan/prello/domain"
)

type fakeStore struct {
	boards map[string]domain.Board
	lists  map[string]domain.List
	tasks  map[string]domain.Task

	failCreateTask bool
	failTaskOrders bool
	failListOrders bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		boards: make(map[string]domain.Board),
		lists:  make(map[string]domain.List),
		tasks:  make(map[string]domain.Task),
	}
}

func (f *fakeStore) GetBoard(_ context.Context, boardID string) (domain.Board, error) {
	b, ok := f.boards[boardID]
	if !ok {
		return domain.Board{}, domain.NotFoundError{Entity: "board", ID: boardID}
	}
	return b, nil
}

func (f *fakeStore) CreateBoard(_ context.Context, b domain.Board) error {
	f.boards[b.ID] = b
	return nil
}

func (f *fakeStore) UpdateBoard(_ context.Context, b domain.Board) error {
	f.boards[b.ID] = b
	return nil
}

func (f *fakeStore) DeleteBoard(_ context.Context, boardID string) error {
	delete(f.boards, boardID)
	return nil
}

func (f *fakeStore) ListsInBoard(_ context.Context, boardID string) ([]domain.List, error) {
	var out []domain.List
	for _, l := range f.lists {
		if l.BoardID == boardID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeStore) GetList(_ context.Context, boardID, listID string) (domain.List, error) {
	l, ok := f.lists[listID]
	if !ok || l.BoardID != boardID {
		return domain.List{}, domain.NotFoundError{Entity: "list", ID: listID}
	}
	return l, nil
}

func (f *fakeStore) CreateList(_ context.Context, l domain.List) error {
	f.lists[l.ID] = l
	return nil
}

func (f *fakeStore) UpdateList(_ context.Context, l domain.List) error {
	f.lists[l.ID] = l
	return nil
}

func (f *fakeStore) DeleteList(_ context.Context, _, listID string) error {
	delete(f.lists, listID)
	return nil
}

func (f *fakeStore) UpdateListOrders(_ context.Context, _ string, placements []domain.Placement) error {
	if f.failListOrders {
		return errors.New("list order write failed")
	}
	for _, p := range placements {
		l := f.lists[p.ID]
		l.Order = p.Order
		f.lists[p.ID] = l
	}
	return nil
}

func (f *fakeStore) TasksInList(_ context.Context, listID string) ([]domain.Task, error) {
	var out []domain.Task
	for _, tk := range f.tasks {
		if tk.ListID == listID {
			out = append(out, tk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeStore) GetTask(_ context.Context, listID, taskID string) (domain.Task, error) {
	tk, ok := f.tasks[taskID]
	if !ok || tk.ListID != listID {
		return domain.Task{}, domain.NotFoundError{Entity: "task", ID: taskID}
	}
	return tk, nil
}

func (f *fakeStore) CreateTask(_ context.Context, tk domain.Task) error {
	if f.failCreateTask {
		return errors.New("task write failed")
	}
	f.tasks[tk.ID] = tk
	return nil
}

func (f *fakeStore) UpdateTask(_ context.Context, tk domain.Task) error {
	f.tasks[tk.ID] = tk
	return nil
}

func (f *fakeStore) DeleteTask(_ context.Context, _, taskID string) error {
	delete(f.tasks, taskID)
	return nil
}

func (f *fakeStore) UpdateTaskOrders(_ context.Context, _ string, placements []domain.Placement) error {
	if f.failTaskOrders {
		return errors.New("task order write failed")
	}
	for _, p := range placements {
		tk := f.tasks[p.ID]
		tk.Order = p.Order
		f.tasks[p.ID] = tk
	}
	return nil
}

func (f *fakeStore) EnqueueEvents(_ context.Context, _ []domain.Event) error { return nil }

type published struct {
	boardID string
	kind    string
	payload any
	exclude string
}

type recordingNotifier struct {
	events []published
}

func (r *recordingNotifier) Publish(boardID, kind string, payload any, exclude string) {
	r.events = append(r.events, published{boardID: boardID, kind: kind, payload: payload, exclude: exclude})
}

func testPipeline() (*Pipeline, *fakeStore, *recordingNotifier) {
	store := newFakeStore()
	notifier := &recordingNotifier{}
	logger := log.New()
	return NewPipeline(store, notifier, logger), store, notifier
}

func seedBoard(store *fakeStore) string {
	store.boards["b1"] = domain.Board{ID: "b1", Name: "roadmap", Owner: "user-1"}
	return "b1"
}

func TestCreateListAppendsAtEnd(t *testing.T) {
	pipe, store, notifier := testPipeline()
	boardID := seedBoard(store)
	store.lists["l1"] = domain.List{ID: "l1", Name: "todo", Order: 0, BoardID: boardID}

	list, err := pipe.CreateList(context.Background(), "conn-1", boardID, "doing")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if list.Order != 1 {
		t.Fatalf("expected new list at position 1, got %d", list.Order)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(notifier.events))
	}
	ev := notifier.events[0]
	if ev.kind != domain.EventListAdded || ev.exclude != "conn-1" {
		t.Fatalf("unexpected event %q exclude %q", ev.kind, ev.exclude)
	}
}

func TestCreateListRejectsEmptyName(t *testing.T) {
	pipe, store, notifier := testPipeline()
	boardID := seedBoard(store)

	_, err := pipe.CreateList(context.Background(), "", boardID, "")
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(store.lists) != 0 {
		t.Fatal("rejected mutation must not persist")
	}
	if len(notifier.events) != 0 {
		t.Fatal("rejected mutation must not notify")
	}
}

func TestCreateTaskStorageFailureSuppressesNotification(t *testing.T) {
	pipe, store, notifier := testPipeline()
	boardID := seedBoard(store)
	store.lists["l1"] = domain.List{ID: "l1", Name: "todo", Order: 0, BoardID: boardID}
	store.failCreateTask = true

	if _, err := pipe.CreateTask(context.Background(), "", boardID, "l1", "ship it"); err == nil {
		t.Fatal("expected storage error")
	}
	if len(notifier.events) != 0 {
		t.Fatal("failed persistence must not notify")
	}
}

func TestUpdateListMovesToFront(t *testing.T) {
	pipe, store, notifier := testPipeline()
	boardID := seedBoard(store)
	store.lists["l1"] = domain.List{ID: "l1", Name: "a", Order: 0, BoardID: boardID}
	store.lists["l2"] = domain.List{ID: "l2", Name: "b", Order: 1, BoardID: boardID}
	store.lists["l3"] = domain.List{ID: "l3", Name: "c", Order: 2, BoardID: boardID}

	newPos := 0
	moved, err := pipe.UpdateList(context.Background(), "conn-9", boardID, "l3", "c", &newPos)
	if err != nil {
		t.Fatalf("update list: %v", err)
	}
	if moved.Order != 0 {
		t.Fatalf("expected moved list at position 0, got %d", moved.Order)
	}

	lists, _ := store.ListsInBoard(context.Background(), boardID)
	want := []string{"l3", "l1", "l2"}
	for i, l := range lists {
		if l.ID != want[i] || l.Order != i {
			t.Fatalf("position %d: expected %s, got %s (order %d)", i, want[i], l.ID, l.Order)
		}
	}

	if len(notifier.events) != 1 || notifier.events[0].kind != domain.EventListUpdated {
		t.Fatalf("expected a single list update event, got %+v", notifier.events)
	}
	payload, ok := notifier.events[0].payload.(domain.ListUpdated)
	if !ok || payload.Order != 0 {
		t.Fatalf("unexpected payload %+v", notifier.events[0].payload)
	}
}

func TestDeleteTaskClosesGap(t *testing.T) {
	pipe, store, _ := testPipeline()
	boardID := seedBoard(store)
	store.lists["l1"] = domain.List{ID: "l1", Name: "todo", Order: 0, BoardID: boardID}
	store.tasks["t1"] = domain.Task{ID: "t1", Title: "one", Order: 0, ListID: "l1", BoardID: boardID}
	store.tasks["t2"] = domain.Task{ID: "t2", Title: "two", Order: 1, ListID: "l1", BoardID: boardID}
	store.tasks["t3"] = domain.Task{ID: "t3", Title: "three", Order: 2, ListID: "l1", BoardID: boardID}

	if err := pipe.DeleteTask(context.Background(), "", boardID, "l1", "t2"); err != nil {
		t.Fatalf("delete task: %v", err)
	}

	tasks, _ := store.TasksInList(context.Background(), "l1")
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	for i, tk := range tasks {
		if tk.Order != i {
			t.Fatalf("expected contiguous positions, got %s at %d", tk.ID, tk.Order)
		}
	}
}

func TestDeleteListCascadesTasksFirst(t *testing.T) {
	pipe, store, notifier := testPipeline()
	boardID := seedBoard(store)
	store.lists["l1"] = domain.List{ID: "l1", Name: "todo", Order: 0, BoardID: boardID}
	store.tasks["t1"] = domain.Task{ID: "t1", Title: "one", Order: 0, ListID: "l1", BoardID: boardID}
	store.tasks["t2"] = domain.Task{ID: "t2", Title: "two", Order: 1, ListID: "l1", BoardID: boardID}
	store.tasks["t3"] = domain.Task{ID: "t3", Title: "three", Order: 2, ListID: "l1", BoardID: boardID}

	if err := pipe.DeleteList(context.Background(), "conn-2", boardID, "l1"); err != nil {
		t.Fatalf("delete list: %v", err)
	}
	if len(store.tasks) != 0 || len(store.lists) != 0 {
		t.Fatal("cascade must remove the list and all its tasks")
	}

	if len(notifier.events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(notifier.events))
	}
	for i := 0; i < 3; i++ {
		if notifier.events[i].kind != domain.EventTaskDeleted {
			t.Fatalf("event %d: expected task deletion, got %s", i, notifier.events[i].kind)
		}
	}
	if notifier.events[3].kind != domain.EventListDeleted {
		t.Fatalf("expected list deletion last, got %s", notifier.events[3].kind)
	}
}

func TestDeleteBoardCascades(t *testing.T) {
	pipe, store, notifier := testPipeline()
	boardID := seedBoard(store)
	store.lists["l1"] = domain.List{ID: "l1", Name: "todo", Order: 0, BoardID: boardID}
	store.lists["l2"] = domain.List{ID: "l2", Name: "done", Order: 1, BoardID: boardID}
	store.tasks["t1"] = domain.Task{ID: "t1", Title: "one", Order: 0, ListID: "l1", BoardID: boardID}

	if err := pipe.DeleteBoard(context.Background(), "", boardID); err != nil {
		t.Fatalf("delete board: %v", err)
	}
	if len(store.boards) != 0 || len(store.lists) != 0 || len(store.tasks) != 0 {
		t.Fatal("cascade must empty the board")
	}

	kinds := make([]string, len(notifier.events))
	for i, ev := range notifier.events {
		kinds[i] = ev.kind
	}
	want := []string{domain.EventTaskDeleted, domain.EventListDeleted, domain.EventListDeleted}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestResequenceFailureStillNotifies(t *testing.T) {
	pipe, store, notifier := testPipeline()
	boardID := seedBoard(store)
	store.lists["l1"] = domain.List{ID: "l1", Name: "todo", Order: 0, BoardID: boardID}
	store.tasks["t1"] = domain.Task{ID: "t1", Title: "one", Order: 0, ListID: "l1", BoardID: boardID}
	store.tasks["t2"] = domain.Task{ID: "t2", Title: "two", Order: 1, ListID: "l1", BoardID: boardID}
	store.failTaskOrders = true

	newPos := 0
	task, err := pipe.UpdateTask(context.Background(), "", boardID, "l1", "t2", "two", &newPos)
	if err != nil {
		t.Fatalf("the primary write committed, expected success, got %v", err)
	}
	// The sibling renumbering never landed, so the reported position is
	// the stored one.
	if task.Order != 1 {
		t.Fatalf("expected stored position 1, got %d", task.Order)
	}
	if len(notifier.events) != 1 || notifier.events[0].kind != domain.EventTaskUpdated {
		t.Fatalf("expected task update notification, got %+v", notifier.events)
	}
}

func TestUpdateBoardRename(t *testing.T) {
	pipe, store, notifier := testPipeline()
	boardID := seedBoard(store)

	board, err := pipe.UpdateBoard(context.Background(), "", boardID, "renamed")
	if err != nil {
		t.Fatalf("update board: %v", err)
	}
	if board.Name != "renamed" || store.boards[boardID].Name != "renamed" {
		t.Fatalf("rename not persisted: %+v", store.boards[boardID])
	}
	if len(notifier.events) != 0 {
		t.Fatal("board rename carries no event kind")
	}
}

func TestCreateBoardNotifies(t *testing.T) {
	pipe, store, notifier := testPipeline()

	board, err := pipe.CreateBoard(context.Background(), "conn-7", "user-1", "roadmap")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	if _, ok := store.boards[board.ID]; !ok {
		t.Fatal("board not persisted")
	}
	if len(notifier.events) != 1 || notifier.events[0].kind != domain.EventBoardAdded {
		t.Fatalf("expected board added event, got %+v", notifier.events)
	}
	if notifier.events[0].exclude != "conn-7" {
		t.Fatalf("expected originator exclusion, got %q", notifier.events[0].exclude)
	}
}

func TestMutationOnMissingParentFails(t *testing.T) {
	pipe, _, notifier := testPipeline()

	_, err := pipe.CreateList(context.Background(), "", "nope", "todo")
	var nferr domain.NotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if len(notifier.events) != 0 {
		t.Fatal("failed validation must not notify")
	}
}
