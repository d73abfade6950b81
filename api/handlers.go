package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/labstack/echo/v4"

	"github.com/aboutevan/prello/domain"
	"github.com/aboutevan/prello/realtime"
)

// mutationMaxSize caps the request body of every mutation endpoint.
const mutationMaxSize = 1 << 20

// connectionIDHeader carries the originating stream connection id so
// fan-out can skip the client that issued the mutation.
const connectionIDHeader = "X-Connection-ID"

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, pipe *Pipeline, registry *realtime.Registry, hub *realtime.Hub, logger *log.Logger) {
	e.GET("/api/boards/:boardID", getBoard(store, auth, logger))
	e.POST("/api/boards", postBoard(pipe, auth))
	e.PUT("/api/boards/:boardID", putBoard(pipe, auth))
	e.DELETE("/api/boards/:boardID", deleteBoard(pipe, auth))

	e.GET("/api/boards/:boardID/lists", getLists(store, auth))
	e.GET("/api/boards/:boardID/lists/:listID", getList(store, auth))
	e.POST("/api/boards/:boardID/lists", postList(pipe, auth))
	e.PUT("/api/boards/:boardID/lists/:listID", putList(pipe, auth))
	e.DELETE("/api/boards/:boardID/lists/:listID", deleteList(pipe, auth))

	e.GET("/api/boards/:boardID/lists/:listID/tasks", getTasks(store, auth))
	e.GET("/api/boards/:boardID/lists/:listID/tasks/:taskID", getTask(store, auth))
	e.POST("/api/boards/:boardID/lists/:listID/tasks", postTask(pipe, auth))
	e.PUT("/api/boards/:boardID/lists/:listID/tasks/:taskID", putTask(pipe, auth))
	e.DELETE("/api/boards/:boardID/lists/:listID/tasks/:taskID", deleteTask(pipe, auth))

	e.GET("/api/stream", streamEvents(auth, registry, hub))
	e.GET("/api/ws", serveWS(auth, registry, hub))
	e.POST("/api/rooms/:boardID/join", joinRoom(registry, hub))

	e.GET("/healthz", healthz(store))

	initEventFeed(store, logger)
}

type createBoardRequest struct {
	Name string `json:"name"`
}

type updateBoardRequest struct {
	Name string `json:"name"`
}

type createListRequest struct {
	Name string `json:"name"`
}

type updateListRequest struct {
	Name  string `json:"name"`
	Order *int   `json:"order,omitempty"`
}

type createTaskRequest struct {
	Title string `json:"title"`
}

type updateTaskRequest struct {
	Title string `json:"title"`
	Order *int   `json:"order,omitempty"`
}

type listView struct {
	domain.List
	Tasks []domain.Task `json:"tasks"`
}

type boardView struct {
	domain.Board
	Lists []listView `json:"lists"`
}

func healthz(_ Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, mutationMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func origin(c echo.Context) string {
	return c.Request().Header.Get(connectionIDHeader)
}

func writeError(c echo.Context, err error) error {
	var verr domain.ValidationError
	if errors.As(err, &verr) {
		return c.String(http.StatusBadRequest, verr.Error())
	}
	var nferr domain.NotFoundError
	if errors.As(err, &nferr) {
		return c.String(http.StatusNotFound, nferr.Error())
	}
	var cerr domain.ConflictError
	if errors.As(err, &cerr) {
		return c.String(http.StatusConflict, cerr.Error())
	}
	c.Logger().Error(err)
	return c.String(http.StatusInternalServerError, err.Error())
}

func getBoard(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics := newBoardRequestMetrics(logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		boardID := c.Param("boardID")
		fetchStart := time.Now()
		board, fetchErr := store.GetBoard(ctx, boardID)
		if fetchErr != nil {
			metrics.ObserveFetch(time.Since(fetchStart))
			metrics.SetErrorStage("storage")
			err = writeError(c, fetchErr)
			return err
		}
		lists, fetchErr := store.ListsInBoard(ctx, boardID)
		if fetchErr != nil {
			metrics.ObserveFetch(time.Since(fetchStart))
			metrics.SetErrorStage("storage")
			err = writeError(c, fetchErr)
			return err
		}
		view := boardView{Board: board, Lists: make([]listView, 0, len(lists))}
		taskCount := 0
		for _, l := range lists {
			tasks, terr := store.TasksInList(ctx, l.ID)
			if terr != nil {
				metrics.ObserveFetch(time.Since(fetchStart))
				metrics.SetErrorStage("storage")
				err = writeError(c, terr)
				return err
			}
			taskCount += len(tasks)
			view.Lists = append(view.Lists, listView{List: l, Tasks: tasks})
		}
		metrics.ObserveFetch(time.Since(fetchStart))
		metrics.SetListsReturned(len(lists))
		metrics.SetTasksReturned(taskCount)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, view)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postBoard(pipe *Pipeline, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createBoardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		board, err := pipe.CreateBoard(c.Request().Context(), origin(c), userID, req.Name)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, board)
	}
}

func putBoard(pipe *Pipeline, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req updateBoardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		board, err := pipe.UpdateBoard(c.Request().Context(), origin(c), c.Param("boardID"), req.Name)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, board)
	}
}

func deleteBoard(pipe *Pipeline, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := pipe.DeleteBoard(c.Request().Context(), origin(c), c.Param("boardID")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getLists(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		lists, err := store.ListsInBoard(c.Request().Context(), c.Param("boardID"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, lists)
	}
}

func getList(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		list, err := store.GetList(c.Request().Context(), c.Param("boardID"), c.Param("listID"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func postList(pipe *Pipeline, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createListRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		list, err := pipe.CreateList(c.Request().Context(), origin(c), c.Param("boardID"), req.Name)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, list)
	}
}

func putList(pipe *Pipeline, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req updateListRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		list, err := pipe.UpdateList(c.Request().Context(), origin(c), c.Param("boardID"), c.Param("listID"), req.Name, req.Order)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func deleteList(pipe *Pipeline, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := pipe.DeleteList(c.Request().Context(), origin(c), c.Param("boardID"), c.Param("listID")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getTasks(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		if _, err := store.GetList(ctx, c.Param("boardID"), c.Param("listID")); err != nil {
			return writeError(c, err)
		}
		tasks, err := store.TasksInList(ctx, c.Param("listID"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, tasks)
	}
}

func getTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		task, err := store.GetTask(c.Request().Context(), c.Param("listID"), c.Param("taskID"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func postTask(pipe *Pipeline, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		task, err := pipe.CreateTask(c.Request().Context(), origin(c), c.Param("boardID"), c.Param("listID"), req.Title)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func putTask(pipe *Pipeline, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req updateTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		task, err := pipe.UpdateTask(c.Request().Context(), origin(c), c.Param("boardID"), c.Param("listID"), c.Param("taskID"), req.Title, req.Order)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(pipe *Pipeline, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := pipe.DeleteTask(c.Request().Context(), origin(c), c.Param("boardID"), c.Param("listID"), c.Param("taskID")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
