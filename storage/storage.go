// Package storage persists boards, lists and tasks in Azure Table
// Storage and appends committed change events to an Azure Queue for
// downstream consumers. Lists are partitioned by board and tasks by
// list, so sibling reads are single-partition scans.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/aboutevan/prello/domain"
)

type eventQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage provides access to the board, list and task tables plus the
// event feed queue.
type Storage struct {
	boardTable *aztables.Client
	listTable  *aztables.Client
	taskTable  *aztables.Client
	eventQueue eventQueue
}

// New creates a Storage instance from the given connection string.
func New(connStr, boardsTable, listsTable, tasksTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		boardTable: svc.NewClient(boardsTable),
		listTable:  svc.NewClient(listsTable),
		taskTable:  svc.NewClient(tasksTable),
		eventQueue: eq,
	}, nil
}

type boardEntity struct {
	aztables.Entity
	Name  string `json:"Name"`
	Owner string `json:"Owner"`
}

type listEntity struct {
	aztables.Entity
	Name  string `json:"Name"`
	Order int    `json:"Order"`
}

type taskEntity struct {
	aztables.Entity
	Title string `json:"Title"`
	Order int    `json:"Order"`
	Board string `json:"BoardId"`
}

// orderUpdate merges only the Order column so concurrent name edits are
// not clobbered by a resequence write.
type orderUpdate struct {
	aztables.Entity
	Order int `json:"Order"`
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// GetBoard retrieves a board by id.
func (s *Storage) GetBoard(ctx context.Context, boardID string) (domain.Board, error) {
	resp, err := s.boardTable.GetEntity(ctx, boardID, boardID, nil)
	if err != nil {
		if statusCode(err) == 404 {
			return domain.Board{}, domain.NotFoundError{Entity: "board", ID: boardID}
		}
		return domain.Board{}, domain.StorageError{Op: "get board", Err: err}
	}
	var ent boardEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Board{}, domain.StorageError{Op: "decode board", Err: err}
	}
	return domain.Board{ID: ent.RowKey, Name: ent.Name, Owner: ent.Owner}, nil
}

// CreateBoard writes a new board entity.
func (s *Storage) CreateBoard(ctx context.Context, b domain.Board) error {
	ent := boardEntity{
		Entity: aztables.Entity{PartitionKey: b.ID, RowKey: b.ID},
		Name:   b.Name,
		Owner:  b.Owner,
	}
	payload, err := json.Marshal(ent)
	if err == nil {
		_, err = s.boardTable.AddEntity(ctx, payload, nil)
	}
	if err != nil {
		if statusCode(err) == 409 {
			return domain.ConflictError{Entity: "board", ID: b.ID}
		}
		return domain.StorageError{Op: "create board", Err: err}
	}
	return nil
}

// UpdateBoard merges changed board fields into the stored entity.
func (s *Storage) UpdateBoard(ctx context.Context, b domain.Board) error {
	ent := boardEntity{
		Entity: aztables.Entity{PartitionKey: b.ID, RowKey: b.ID},
		Name:   b.Name,
		Owner:  b.Owner,
	}
	payload, err := json.Marshal(ent)
	if err == nil {
		et := azcore.ETagAny
		_, err = s.boardTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	}
	if err != nil {
		if statusCode(err) == 404 {
			return domain.NotFoundError{Entity: "board", ID: b.ID}
		}
		return domain.StorageError{Op: "update board", Err: err}
	}
	return nil
}

// DeleteBoard removes a board entity. Child rows are removed by the
// mutation pipeline before this is called.
func (s *Storage) DeleteBoard(ctx context.Context, boardID string) error {
	_, err := s.boardTable.DeleteEntity(ctx, boardID, boardID, nil)
	if err != nil {
		if statusCode(err) == 404 {
			return domain.NotFoundError{Entity: "board", ID: boardID}
		}
		return domain.StorageError{Op: "delete board", Err: err}
	}
	return nil
}

// ListsInBoard retrieves the board's lists ordered by their order field.
func (s *Storage) ListsInBoard(ctx context.Context, boardID string) ([]domain.List, error) {
	filter := "PartitionKey eq '" + boardID + "'"
	pager := s.listTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	lists := []domain.List{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, domain.StorageError{Op: "list lists", Err: err}
		}
		for _, e := range resp.Entities {
			var ent listEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, domain.StorageError{Op: "decode list", Err: err}
			}
			lists = append(lists, domain.List{
				ID:      ent.RowKey,
				Name:    ent.Name,
				Order:   ent.Order,
				BoardID: ent.PartitionKey,
			})
		}
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i].Order < lists[j].Order })
	return lists, nil
}

// GetList retrieves a single list within a board.
func (s *Storage) GetList(ctx context.Context, boardID, listID string) (domain.List, error) {
	resp, err := s.listTable.GetEntity(ctx, boardID, listID, nil)
	if err != nil {
		if statusCode(err) == 404 {
			return domain.List{}, domain.NotFoundError{Entity: "list", ID: listID}
		}
		return domain.List{}, domain.StorageError{Op: "get list", Err: err}
	}
	var ent listEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.List{}, domain.StorageError{Op: "decode list", Err: err}
	}
	return domain.List{ID: ent.RowKey, Name: ent.Name, Order: ent.Order, BoardID: ent.PartitionKey}, nil
}

// CreateList writes a new list entity under its board partition.
func (s *Storage) CreateList(ctx context.Context, l domain.List) error {
	ent := listEntity{
		Entity: aztables.Entity{PartitionKey: l.BoardID, RowKey: l.ID},
		Name:   l.Name,
		Order:  l.Order,
	}
	payload, err := json.Marshal(ent)
	if err == nil {
		_, err = s.listTable.AddEntity(ctx, payload, nil)
	}
	if err != nil {
		if statusCode(err) == 409 {
			return domain.ConflictError{Entity: "list", ID: l.ID}
		}
		return domain.StorageError{Op: "create list", Err: err}
	}
	return nil
}

// UpdateList merges changed list fields into the stored entity.
func (s *Storage) UpdateList(ctx context.Context, l domain.List) error {
	ent := listEntity{
		Entity: aztables.Entity{PartitionKey: l.BoardID, RowKey: l.ID},
		Name:   l.Name,
		Order:  l.Order,
	}
	payload, err := json.Marshal(ent)
	if err == nil {
		et := azcore.ETagAny
		_, err = s.listTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	}
	if err != nil {
		if statusCode(err) == 404 {
			return domain.NotFoundError{Entity: "list", ID: l.ID}
		}
		return domain.StorageError{Op: "update list", Err: err}
	}
	return nil
}

// DeleteList removes a list entity.
func (s *Storage) DeleteList(ctx context.Context, boardID, listID string) error {
	_, err := s.listTable.DeleteEntity(ctx, boardID, listID, nil)
	if err != nil {
		if statusCode(err) == 404 {
			return domain.NotFoundError{Entity: "list", ID: listID}
		}
		return domain.StorageError{Op: "delete list", Err: err}
	}
	return nil
}

// UpdateListOrders writes back the order of every shifted sibling. The
// first failure aborts and leaves the remainder stale; callers treat
// that as a partial resequence.
func (s *Storage) UpdateListOrders(ctx context.Context, boardID string, placements []domain.Placement) error {
	for _, p := range placements {
		if err := s.updateOrder(ctx, s.listTable, boardID, p); err != nil {
			return domain.StorageError{Op: "update list order", Err: err}
		}
	}
	return nil
}

// TasksInList retrieves the list's tasks ordered by their order field.
func (s *Storage) TasksInList(ctx context.Context, listID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + listID + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, domain.StorageError{Op: "list tasks", Err: err}
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, domain.StorageError{Op: "decode task", Err: err}
			}
			tasks = append(tasks, domain.Task{
				ID:      ent.RowKey,
				Title:   ent.Title,
				Order:   ent.Order,
				ListID:  ent.PartitionKey,
				BoardID: ent.Board,
			})
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })
	return tasks, nil
}

// GetTask retrieves a single task within a list.
func (s *Storage) GetTask(ctx context.Context, listID, taskID string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, listID, taskID, nil)
	if err != nil {
		if statusCode(err) == 404 {
			return domain.Task{}, domain.NotFoundError{Entity: "task", ID: taskID}
		}
		return domain.Task{}, domain.StorageError{Op: "get task", Err: err}
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, domain.StorageError{Op: "decode task", Err: err}
	}
	return domain.Task{ID: ent.RowKey, Title: ent.Title, Order: ent.Order, ListID: ent.PartitionKey, BoardID: ent.Board}, nil
}

// CreateTask writes a new task entity under its list partition.
func (s *Storage) CreateTask(ctx context.Context, tk domain.Task) error {
	ent := taskEntity{
		Entity: aztables.Entity{PartitionKey: tk.ListID, RowKey: tk.ID},
		Title:  tk.Title,
		Order:  tk.Order,
		Board:  tk.BoardID,
	}
	payload, err := json.Marshal(ent)
	if err == nil {
		_, err = s.taskTable.AddEntity(ctx, payload, nil)
	}
	if err != nil {
		if statusCode(err) == 409 {
			return domain.ConflictError{Entity: "task", ID: tk.ID}
		}
		return domain.StorageError{Op: "create task", Err: err}
	}
	return nil
}

// UpdateTask merges changed task fields into the stored entity.
func (s *Storage) UpdateTask(ctx context.Context, tk domain.Task) error {
	ent := taskEntity{
		Entity: aztables.Entity{PartitionKey: tk.ListID, RowKey: tk.ID},
		Title:  tk.Title,
		Order:  tk.Order,
		Board:  tk.BoardID,
	}
	payload, err := json.Marshal(ent)
	if err == nil {
		et := azcore.ETagAny
		_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	}
	if err != nil {
		if statusCode(err) == 404 {
			return domain.NotFoundError{Entity: "task", ID: tk.ID}
		}
		return domain.StorageError{Op: "update task", Err: err}
	}
	return nil
}

// DeleteTask removes a task entity.
func (s *Storage) DeleteTask(ctx context.Context, listID, taskID string) error {
	_, err := s.taskTable.DeleteEntity(ctx, listID, taskID, nil)
	if err != nil {
		if statusCode(err) == 404 {
			return domain.NotFoundError{Entity: "task", ID: taskID}
		}
		return domain.StorageError{Op: "delete task", Err: err}
	}
	return nil
}

// UpdateTaskOrders writes back the order of every shifted task sibling.
func (s *Storage) UpdateTaskOrders(ctx context.Context, listID string, placements []domain.Placement) error {
	for _, p := range placements {
		if err := s.updateOrder(ctx, s.taskTable, listID, p); err != nil {
			return domain.StorageError{Op: "update task order", Err: err}
		}
	}
	return nil
}

func (s *Storage) updateOrder(ctx context.Context, table *aztables.Client, partition string, p domain.Placement) error {
	ent := orderUpdate{
		Entity: aztables.Entity{PartitionKey: partition, RowKey: p.ID},
		Order:  p.Order,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// EnqueueEvents appends committed change events to the event feed.
func (s *Storage) EnqueueEvents(ctx context.Context, events []domain.Event) error {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := s.eventQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}
