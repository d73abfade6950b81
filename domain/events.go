package domain

import "github.com/bytedance/sonic"

// Event kinds observable by stream clients. The set is closed; clients
// must ignore kinds they do not recognize.
const (
	EventBoardAdded  = "BOARD_ADDED"
	EventListAdded   = "LIST_ADDED"
	EventListUpdated = "LIST_UPDATED"
	EventListDeleted = "LIST_DELETED"
	EventTaskAdded   = "TASK_ADDED"
	EventTaskUpdated = "TASK_UPDATED"
	EventTaskDeleted = "TASK_DELETED"
)

// Event is a change notification fanned out to every viewer of a board.
type Event struct {
	ID      string                 `json:"id"`
	BoardID string                 `json:"board_id"`
	Kind    string                 `json:"kind"`
	Data    sonic.NoCopyRawMessage `json:"data,omitempty"`
	Time    int64                  `json:"time"`
}

// BoardAdded is the payload for EventBoardAdded.
type BoardAdded struct {
	BoardID string `json:"board_id"`
	Name    string `json:"name"`
}

// ListAdded is the payload for EventListAdded.
type ListAdded struct {
	ListID  string `json:"list_id"`
	Name    string `json:"name"`
	Order   int    `json:"order"`
	BoardID string `json:"board_id"`
}

// ListUpdated is the payload for EventListUpdated.
type ListUpdated struct {
	ListID string `json:"list_id"`
	Name   string `json:"name"`
	Order  int    `json:"order"`
}

// ListDeleted is the payload for EventListDeleted.
type ListDeleted struct {
	ListID  string `json:"list_id"`
	BoardID string `json:"board_id"`
}

// TaskAdded is the payload for EventTaskAdded.
type TaskAdded struct {
	TaskID  string `json:"task_id"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
	ListID  string `json:"list_id"`
	BoardID string `json:"board_id"`
}

// TaskUpdated is the payload for EventTaskUpdated.
type TaskUpdated struct {
	TaskID  string `json:"task_id"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
	ListID  string `json:"list_id"`
	BoardID string `json:"board_id"`
}

// TaskDeleted is the payload for EventTaskDeleted.
type TaskDeleted struct {
	TaskID  string `json:"task_id"`
	ListID  string `json:"list_id"`
	BoardID string `json:"board_id"`
}
