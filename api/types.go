package api

import (
	"context"

	"github.com/aboutevan/prello/domain"
)

// Storage abstracts persistence for handlers and the mutation pipeline.
type Storage interface {
	GetBoard(ctx context.Context, boardID string) (domain.Board, error)
	CreateBoard(ctx context.Context, b domain.Board) error
	UpdateBoard(ctx context.Context, b domain.Board) error
	DeleteBoard(ctx context.Context, boardID string) error

	ListsInBoard(ctx context.Context, boardID string) ([]domain.List, error)
	GetList(ctx context.Context, boardID, listID string) (domain.List, error)
	CreateList(ctx context.Context, l domain.List) error
	UpdateList(ctx context.Context, l domain.List) error
	DeleteList(ctx context.Context, boardID, listID string) error
	UpdateListOrders(ctx context.Context, boardID string, placements []domain.Placement) error

	TasksInList(ctx context.Context, listID string) ([]domain.Task, error)
	GetTask(ctx context.Context, listID, taskID string) (domain.Task, error)
	CreateTask(ctx context.Context, tk domain.Task) error
	UpdateTask(ctx context.Context, tk domain.Task) error
	DeleteTask(ctx context.Context, listID, taskID string) error
	UpdateTaskOrders(ctx context.Context, listID string, placements []domain.Placement) error

	EnqueueEvents(ctx context.Context, events []domain.Event) error
}

// Notifier publishes a change event to every viewer of a board except
// the originating connection.
type Notifier interface {
	Publish(boardID, kind string, payload any, exclude string)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}
