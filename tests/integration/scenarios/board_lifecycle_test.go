package scenarios

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"prellotest/internal/assertx"
)

func TestBoardListTaskLifecycle(t *testing.T) {
	client := newClient(t)

	b := mustCreateBoard(t, client, fmt.Sprintf("lifecycle-%d", time.Now().UnixNano()))
	todo := mustCreateList(t, client, b.ID, "todo")
	done := mustCreateList(t, client, b.ID, "done")
	assertx.Equal(t, 0, todo.Order)
	assertx.Equal(t, 1, done.Order)

	one := mustCreateTask(t, client, b.ID, todo.ID, "one")
	two := mustCreateTask(t, client, b.ID, todo.ID, "two")
	assertx.Equal(t, 0, one.Order)
	assertx.Equal(t, 1, two.Order)

	view := pollBoard(t, client, b.ID, func(bd board) bool {
		return len(bd.Lists) == 2 && len(bd.Lists[0].Tasks) == 2
	})
	assertx.Equal(t, "todo", view.Lists[0].Name)
	assertx.Equal(t, "one", view.Lists[0].Tasks[0].Title)
}

func TestTaskMoveKeepsPositionsContiguous(t *testing.T) {
	client := newClient(t)

	b := mustCreateBoard(t, client, fmt.Sprintf("move-%d", time.Now().UnixNano()))
	todo := mustCreateList(t, client, b.ID, "todo")
	mustCreateTask(t, client, b.ID, todo.ID, "one")
	mustCreateTask(t, client, b.ID, todo.ID, "two")
	three := mustCreateTask(t, client, b.ID, todo.ID, "three")

	var moved task
	resp, err := client.PutJSON("/api/boards/"+b.ID+"/lists/"+todo.ID+"/tasks/"+three.ID,
		map[string]any{"title": "three", "order": 0}, &moved)
	if err != nil {
		t.Fatalf("move task: %v", err)
	}
	assertx.Equal(t, http.StatusOK, resp.StatusCode)
	assertx.Equal(t, 0, moved.Order)

	view := pollBoard(t, client, b.ID, func(bd board) bool {
		return len(bd.Lists) == 1 && len(bd.Lists[0].Tasks) == 3 && bd.Lists[0].Tasks[0].ID == three.ID
	})
	for i, tk := range view.Lists[0].Tasks {
		assertx.Equal(t, i, tk.Order)
	}
}

func TestListDeletionCascades(t *testing.T) {
	client := newClient(t)

	b := mustCreateBoard(t, client, fmt.Sprintf("cascade-%d", time.Now().UnixNano()))
	todo := mustCreateList(t, client, b.ID, "todo")
	keep := mustCreateList(t, client, b.ID, "keep")
	mustCreateTask(t, client, b.ID, todo.ID, "orphan-to-be")

	resp, err := client.Delete("/api/boards/" + b.ID + "/lists/" + todo.ID)
	if err != nil {
		t.Fatalf("delete list: %v", err)
	}
	assertx.Equal(t, http.StatusNoContent, resp.StatusCode)

	view := pollBoard(t, client, b.ID, func(bd board) bool {
		return len(bd.Lists) == 1
	})
	assertx.Equal(t, keep.ID, view.Lists[0].ID)
	// Survivor closed the gap left by the deleted list.
	assertx.Equal(t, 0, view.Lists[0].Order)
	assertx.Equal(t, 0, len(view.Lists[0].Tasks))
}
