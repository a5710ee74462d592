package serve

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
	"github.com/ormasoftchile/stepwise/pkg/kernel/playback"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
	"github.com/ormasoftchile/stepwise/pkg/session"
	"github.com/ormasoftchile/stepwise/pkg/store"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// StateMessage is one playback state update.
type StateMessage struct {
	playback.State
	Error string `json:"error,omitempty"`
}

func stateMessage(st playback.State) StateMessage {
	return StateMessage{State: st, Error: st.ErrMessage()}
}

// SessionView is the body of GET /api/session.
type SessionView struct {
	Mode    session.Mode     `json:"mode"`
	File    *schema.TestFile `json:"file"`
	Pending *schema.Step     `json:"pending"`
	State   StateMessage     `json:"state"`
}

// GET /api/session
func (s *Server) handleSessionState(c echo.Context) error {
	view := SessionView{
		Mode:  s.session.Mode(),
		File:  s.session.File(),
		State: stateMessage(s.session.State()),
	}
	if p, ok := s.session.Pending(); ok {
		view.Pending = &p
	}
	return c.JSON(http.StatusOK, view)
}

// POST /api/session/new
func (s *Server) handleSessionNew(c echo.Context) error {
	resp := map[string]any{"ok": true}
	if err := s.session.NewFile(c.Request().Context()); err != nil {
		resp["resetError"] = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// POST /api/session/mode
func (s *Server) handleSessionMode(c echo.Context) error {
	var req struct {
		Mode session.Mode `json:"mode"`
	}
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if err := s.session.SetMode(req.Mode); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ClickResponse is the body of POST /api/session/click.
type ClickResponse struct {
	Step    *schema.Step `json:"step"`
	Matches int          `json:"matches"`
	Warning string       `json:"warning,omitempty"`
}

// POST /api/session/click
func (s *Server) handleSessionClick(c echo.Context) error {
	var p dom.Point
	if err := c.Bind(&p); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	res, err := s.session.Click(c.Request().Context(), p)
	if err != nil {
		return errorJSON(c, statusOf(err), err.Error())
	}
	if res == nil {
		return c.JSON(http.StatusOK, ClickResponse{})
	}
	out := ClickResponse{Step: &res.Step, Matches: res.Matches}
	if res.Warning != nil {
		out.Warning = res.Warning.Error()
	}
	return c.JSON(http.StatusOK, out)
}

// POST /api/session/pending
func (s *Server) handleSessionSetPending(c echo.Context) error {
	var step schema.Step
	if err := c.Bind(&step); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if err := s.session.SetPending(step); err != nil {
		return errorJSON(c, statusOf(err), err.Error())
	}
	p, _ := s.session.Pending()
	return c.JSON(http.StatusOK, p)
}

// ConfirmResponse is the body of POST /api/session/confirm.
type ConfirmResponse struct {
	Updated     bool          `json:"updated"`
	Added       []schema.Step `json:"added"`
	Replayed    bool          `json:"replayed"`
	ReplayError string        `json:"replayError,omitempty"`
}

// POST /api/session/confirm
func (s *Server) handleSessionConfirm(c echo.Context) error {
	res, err := s.session.Confirm(c.Request().Context())
	if err != nil {
		return errorJSON(c, statusOf(err), err.Error())
	}
	out := ConfirmResponse{Updated: res.Updated, Added: res.Added, Replayed: res.Replayed}
	if out.Added == nil {
		out.Added = []schema.Step{}
	}
	if res.ReplayErr != nil {
		out.ReplayError = res.ReplayErr.Error()
	}
	return c.JSON(http.StatusOK, out)
}

// POST /api/session/discard
func (s *Server) handleSessionDiscard(c echo.Context) error {
	s.session.Discard()
	return c.NoContent(http.StatusNoContent)
}

// POST /api/session/run
func (s *Server) handleSessionRun(c echo.Context) error {
	if err := s.session.Run(); err != nil {
		return errorJSON(c, statusOf(err), err.Error())
	}
	return c.JSON(http.StatusAccepted, stateMessage(s.session.State()))
}

// POST /api/session/stop
func (s *Server) handleSessionStop(c echo.Context) error {
	s.session.Stop()
	return c.NoContent(http.StatusNoContent)
}

// POST /api/session/export
func (s *Server) handleSessionExport(c echo.Context) error {
	script, err := s.session.Export(c.Request().Context())
	if err != nil {
		return errorJSON(c, statusOf(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"script": script})
}

// handleSessionEvents streams playback state. Updates queue behind a slow
// client are collapsed to the latest one.
// GET /api/session/events
func (s *Server) handleSessionEvents(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer ws.Close()

	updates := make(chan playback.State, 1)
	push := func(st playback.State) {
		for {
			select {
			case updates <- st:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	unsubscribe := s.session.Engine().Subscribe(push)
	defer unsubscribe()
	push(s.session.State())

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case st := <-updates:
			data, err := json.Marshal(stateMessage(st))
			if err != nil {
				return nil
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return nil
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// statusOf maps session and action failures to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrNoFile), errors.Is(err, session.ErrNoPending),
		errors.Is(err, session.ErrNavigationMode), errors.Is(err, playback.ErrRunning):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoStore):
		return http.StatusNotImplemented
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}
	switch failure.KindOf(err) {
	case failure.KindUnrecognizedAction:
		return http.StatusNotFound
	case failure.KindActionContractViolation:
		return http.StatusNotImplemented
	case failure.KindCodeGenerationFailed, failure.KindMalformedScript:
		return http.StatusUnprocessableEntity
	case "":
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}
