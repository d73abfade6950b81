package api

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/aboutevan/prello/domain"
)

// Pipeline runs every mutation through the same stages: validate the
// request and its referenced parent, persist the primary change,
// resequence siblings when ordering changed, then notify the board
// room. Validation and persistence failures abort before any
// notification; a resequence failure after the primary commit is
// reported, never masked.
type Pipeline struct {
	store    Storage
	notifier Notifier
	logger   *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewPipeline(store Storage, notifier Notifier, logger *log.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		notifier: notifier,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// boardLock returns the mutex serializing persist+resequence for one
// board, so two racing mutations cannot interleave their renumbering.
func (p *Pipeline) boardLock(boardID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[boardID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[boardID] = l
	}
	return l
}

// notify publishes to the board room (excluding the originator) and
// feeds the committed event to the downstream queue.
func (p *Pipeline) notify(boardID, kind string, payload any, origin string) {
	p.notifier.Publish(boardID, kind, payload, origin)
	enqueueFeedEvent(boardID, kind, payload)
}

func (p *Pipeline) reportPartialResequence(err error, entity, boardID string) {
	p.logger.WithError(err).WithFields(log.Fields{
		"stage":  "resequence",
		"entity": entity,
		"board":  boardID,
	}).Error(domain.ErrPartialResequence.Error())
}

// CreateBoard persists a new board and announces it.
func (p *Pipeline) CreateBoard(ctx context.Context, origin, owner, name string) (domain.Board, error) {
	if name == "" {
		return domain.Board{}, domain.ValidationError{Field: "name", Reason: "required"}
	}
	b := domain.Board{ID: uuid.NewString(), Name: name, Owner: owner}
	if err := p.store.CreateBoard(ctx, b); err != nil {
		return domain.Board{}, err
	}
	p.notify(b.ID, domain.EventBoardAdded, domain.BoardAdded{BoardID: b.ID, Name: b.Name}, origin)
	return b, nil
}

// UpdateBoard renames a board. Board renames carry no event kind, so
// the pipeline skips the notify stage.
func (p *Pipeline) UpdateBoard(ctx context.Context, origin, boardID, name string) (domain.Board, error) {
	if name == "" {
		return domain.Board{}, domain.ValidationError{Field: "name", Reason: "required"}
	}
	b, err := p.store.GetBoard(ctx, boardID)
	if err != nil {
		return domain.Board{}, err
	}
	b.Name = name
	if err := p.store.UpdateBoard(ctx, b); err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

// DeleteBoard removes a board, cascading each list (and its tasks)
// through the pipeline so every child deletion is persisted and
// notified individually before the board row is removed.
func (p *Pipeline) DeleteBoard(ctx context.Context, origin, boardID string) error {
	if _, err := p.store.GetBoard(ctx, boardID); err != nil {
		return err
	}
	lock := p.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	lists, err := p.store.ListsInBoard(ctx, boardID)
	if err != nil {
		return err
	}
	for _, l := range lists {
		if err := p.deleteListLocked(ctx, origin, boardID, l.ID); err != nil {
			return err
		}
	}
	return p.store.DeleteBoard(ctx, boardID)
}

// CreateList appends a new list at the end of the board.
func (p *Pipeline) CreateList(ctx context.Context, origin, boardID, name string) (domain.List, error) {
	if name == "" {
		return domain.List{}, domain.ValidationError{Field: "name", Reason: "required"}
	}
	if _, err := p.store.GetBoard(ctx, boardID); err != nil {
		return domain.List{}, err
	}
	lock := p.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	siblings, err := p.store.ListsInBoard(ctx, boardID)
	if err != nil {
		return domain.List{}, err
	}
	l := domain.List{ID: uuid.NewString(), Name: name, Order: len(siblings), BoardID: boardID}
	if err := p.store.CreateList(ctx, l); err != nil {
		return domain.List{}, err
	}
	p.notify(boardID, domain.EventListAdded, domain.ListAdded{
		ListID:  l.ID,
		Name:    l.Name,
		Order:   l.Order,
		BoardID: boardID,
	}, origin)
	return l, nil
}

// UpdateList renames a list and, when order is provided, moves it among
// its siblings, renumbering every shifted one.
func (p *Pipeline) UpdateList(ctx context.Context, origin, boardID, listID, name string, order *int) (domain.List, error) {
	if name == "" {
		return domain.List{}, domain.ValidationError{Field: "name", Reason: "required"}
	}
	lock := p.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	cur, err := p.store.GetList(ctx, boardID, listID)
	if err != nil {
		return domain.List{}, err
	}
	cur.Name = name
	if err := p.store.UpdateList(ctx, cur); err != nil {
		return domain.List{}, err
	}

	if order != nil && *order != cur.Order {
		siblings, err := p.store.ListsInBoard(ctx, boardID)
		if err != nil {
			p.reportPartialResequence(err, "list", boardID)
		} else {
			before := listPlacements(siblings)
			after := domain.Reorder(before, listID, *order)
			if err := p.store.UpdateListOrders(ctx, boardID, domain.Changed(before, after)); err != nil {
				p.reportPartialResequence(err, "list", boardID)
			} else {
				cur.Order = placementOrder(after, listID, cur.Order)
			}
		}
	}

	p.notify(boardID, domain.EventListUpdated, domain.ListUpdated{
		ListID: cur.ID,
		Name:   cur.Name,
		Order:  cur.Order,
	}, origin)
	return cur, nil
}

// DeleteList removes a list after cascading its tasks through the
// pipeline, so each task deletion is persisted and notified before the
// list's own deletion event fires.
func (p *Pipeline) DeleteList(ctx context.Context, origin, boardID, listID string) error {
	lock := p.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()
	return p.deleteListLocked(ctx, origin, boardID, listID)
}

func (p *Pipeline) deleteListLocked(ctx context.Context, origin, boardID, listID string) error {
	if _, err := p.store.GetList(ctx, boardID, listID); err != nil {
		return err
	}
	tasks, err := p.store.TasksInList(ctx, listID)
	if err != nil {
		return err
	}
	for _, tk := range tasks {
		if err := p.deleteTaskLocked(ctx, origin, boardID, listID, tk.ID); err != nil {
			return err
		}
	}
	if err := p.store.DeleteList(ctx, boardID, listID); err != nil {
		return err
	}

	siblings, err := p.store.ListsInBoard(ctx, boardID)
	if err != nil {
		p.reportPartialResequence(err, "list", boardID)
	} else {
		before := listPlacements(siblings)
		after := domain.Renumber(before)
		if err := p.store.UpdateListOrders(ctx, boardID, domain.Changed(before, after)); err != nil {
			p.reportPartialResequence(err, "list", boardID)
		}
	}

	p.notify(boardID, domain.EventListDeleted, domain.ListDeleted{
		ListID:  listID,
		BoardID: boardID,
	}, origin)
	return nil
}

// CreateTask appends a new task at the end of the list.
func (p *Pipeline) CreateTask(ctx context.Context, origin, boardID, listID, title string) (domain.Task, error) {
	if title == "" {
		return domain.Task{}, domain.ValidationError{Field: "title", Reason: "required"}
	}
	if _, err := p.store.GetList(ctx, boardID, listID); err != nil {
		return domain.Task{}, err
	}
	lock := p.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	siblings, err := p.store.TasksInList(ctx, listID)
	if err != nil {
		return domain.Task{}, err
	}
	tk := domain.Task{ID: uuid.NewString(), Title: title, Order: len(siblings), ListID: listID, BoardID: boardID}
	if err := p.store.CreateTask(ctx, tk); err != nil {
		return domain.Task{}, err
	}
	p.notify(boardID, domain.EventTaskAdded, domain.TaskAdded{
		TaskID:  tk.ID,
		Title:   tk.Title,
		Order:   tk.Order,
		ListID:  listID,
		BoardID: boardID,
	}, origin)
	return tk, nil
}

// UpdateTask retitles a task and, when order is provided, moves it
// among its siblings.
func (p *Pipeline) UpdateTask(ctx context.Context, origin, boardID, listID, taskID, title string, order *int) (domain.Task, error) {
	if title == "" {
		return domain.Task{}, domain.ValidationError{Field: "title", Reason: "required"}
	}
	lock := p.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	cur, err := p.store.GetTask(ctx, listID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	cur.Title = title
	cur.BoardID = boardID
	if err := p.store.UpdateTask(ctx, cur); err != nil {
		return domain.Task{}, err
	}

	if order != nil && *order != cur.Order {
		siblings, err := p.store.TasksInList(ctx, listID)
		if err != nil {
			p.reportPartialResequence(err, "task", boardID)
		} else {
			before := taskPlacements(siblings)
			after := domain.Reorder(before, taskID, *order)
			if err := p.store.UpdateTaskOrders(ctx, listID, domain.Changed(before, after)); err != nil {
				p.reportPartialResequence(err, "task", boardID)
			} else {
				cur.Order = placementOrder(after, taskID, cur.Order)
			}
		}
	}

	p.notify(boardID, domain.EventTaskUpdated, domain.TaskUpdated{
		TaskID:  cur.ID,
		Title:   cur.Title,
		Order:   cur.Order,
		ListID:  listID,
		BoardID: boardID,
	}, origin)
	return cur, nil
}

// DeleteTask removes a task and closes the order gap it leaves.
func (p *Pipeline) DeleteTask(ctx context.Context, origin, boardID, listID, taskID string) error {
	lock := p.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()
	return p.deleteTaskLocked(ctx, origin, boardID, listID, taskID)
}

func (p *Pipeline) deleteTaskLocked(ctx context.Context, origin, boardID, listID, taskID string) error {
	if _, err := p.store.GetTask(ctx, listID, taskID); err != nil {
		return err
	}
	if err := p.store.DeleteTask(ctx, listID, taskID); err != nil {
		return err
	}

	siblings, err := p.store.TasksInList(ctx, listID)
	if err != nil {
		p.reportPartialResequence(err, "task", boardID)
	} else {
		before := taskPlacements(siblings)
		after := domain.Renumber(before)
		if err := p.store.UpdateTaskOrders(ctx, listID, domain.Changed(before, after)); err != nil {
			p.reportPartialResequence(err, "task", boardID)
		}
	}

	p.notify(boardID, domain.EventTaskDeleted, domain.TaskDeleted{
		TaskID:  taskID,
		ListID:  listID,
		BoardID: boardID,
	}, origin)
	return nil
}

func listPlacements(lists []domain.List) []domain.Placement {
	out := make([]domain.Placement, len(lists))
	for i, l := range lists {
		out[i] = domain.Placement{ID: l.ID, Order: l.Order}
	}
	return out
}

func taskPlacements(tasks []domain.Task) []domain.Placement {
	out := make([]domain.Placement, len(tasks))
	for i, tk := range tasks {
		out[i] = domain.Placement{ID: tk.ID, Order: tk.Order}
	}
	return out
}

func placementOrder(placements []domain.Placement, id string, fallback int) int {
	for _, p := range placements {
		if p.ID == id {
			return p.Order
		}
	}
	return fallback
}
