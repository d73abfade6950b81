package scenarios

import (
	"net/http"
	"os"
	"testing"
	"time"

	integration "prellotest"
	"prellotest/internal/httpclient"
)

type board struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Lists []list `json:"lists"`
}

type list struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Order   int    `json:"order"`
	BoardID string `json:"board_id"`
	Tasks   []task `json:"tasks"`
}

type task struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
	ListID  string `json:"list_id"`
	BoardID string `json:"board_id"`
}

func newClient(t *testing.T) *httpclient.Client {
	base := os.Getenv("API_BASE")
	if base == "" {
		base = "http://localhost:8080"
	}
	if _, err := http.Get(base + "/healthz"); err != nil {
		t.Skipf("skipping, API not reachable: %v", err)
	}
	bearer := os.Getenv("TEST_BEARER")
	if bearer == "" {
		tok, err := integration.TestToken("integration-user")
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		bearer = tok
	}
	return httpclient.New(base, bearer)
}

// pollBoard polls the board view until cond returns true or timeout.
func pollBoard(t *testing.T, client *httpclient.Client, boardID string, cond func(board) bool) board {
	deadline := time.Now().Add(10 * time.Second)
	backoff := 200 * time.Millisecond
	for {
		var b board
		_, err := client.GetJSON("/api/boards/"+boardID, &b)
		if err == nil && cond(b) {
			return b
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for board state: %v", err)
		}
		time.Sleep(backoff)
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

func mustCreateBoard(t *testing.T, client *httpclient.Client, name string) board {
	t.Helper()
	var b board
	resp, err := client.PostJSON("/api/boards", map[string]string{"name": name}, &b)
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create board: status %d", resp.StatusCode)
	}
	t.Cleanup(func() {
		client.Delete("/api/boards/" + b.ID)
	})
	return b
}

func mustCreateList(t *testing.T, client *httpclient.Client, boardID, name string) list {
	t.Helper()
	var l list
	resp, err := client.PostJSON("/api/boards/"+boardID+"/lists", map[string]string{"name": name}, &l)
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create list: status %d", resp.StatusCode)
	}
	return l
}

func mustCreateTask(t *testing.T, client *httpclient.Client, boardID, listID, title string) task {
	t.Helper()
	var tk task
	resp, err := client.PostJSON("/api/boards/"+boardID+"/lists/"+listID+"/tasks", map[string]string{"title": title}, &tk)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d", resp.StatusCode)
	}
	return tk
}
