package domain

// Board groups lists for a single owner. Its identifier is immutable
// once created.
type Board struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner string `json:"owner,omitempty"`
}

// List is an ordered column of tasks on a board. Order values of the
// lists in a board form a contiguous sequence starting at zero.
type List struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Order   int    `json:"order"`
	BoardID string `json:"board_id"`
}

// Task is an ordered item within a list. BoardID is carried alongside
// the list back-reference so change events can be routed to the board
// room without an extra lookup.
type Task struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
	ListID  string `json:"list_id"`
	BoardID string `json:"board_id"`
}
