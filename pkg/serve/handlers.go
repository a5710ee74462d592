package serve

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
	"github.com/ormasoftchile/stepwise/pkg/kernel/validate"
	"github.com/ormasoftchile/stepwise/pkg/remote"
	"github.com/ormasoftchile/stepwise/pkg/store"
)

// InitResponse is the body of GET /api/init.
type InitResponse struct {
	TargetURL string        `json:"targetUrl"`
	Actions   []remote.Spec `json:"actions"`
}

// stepRequest mirrors the body pkg/remote sends.
type stepRequest struct {
	Step schema.Step `json:"step"`
}

// handleInit reports the target and the registered actions.
// GET /api/init
func (s *Server) handleInit(c echo.Context) error {
	if s.probe != nil {
		if err := s.probe(c.Request().Context()); err != nil {
			if errors.Is(err, ErrNotTestMode) {
				return c.String(http.StatusForbidden, "Not running in test mode.")
			}
			s.logger.Error("test mode probe failed", zap.Error(err))
			return c.String(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, InitResponse{TargetURL: s.target, Actions: s.specs()})
}

func (s *Server) specs() []remote.Spec {
	list := s.registry.List()
	out := make([]remote.Spec, 0, len(list))
	for _, d := range list {
		out = append(out, remote.SpecOf(d))
	}
	return out
}

// GET /api/actions
func (s *Server) handleListActions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.specs())
}

// handleGenerate renders one step.
// POST /api/actions/:action/generate
func (s *Server) handleGenerate(c echo.Context) error {
	step, err := s.bindStep(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	code, err := s.registry.GenerateCode(c.Request().Context(), step)
	if err != nil {
		return errorJSON(c, statusOf(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"code": code})
}

// handlePlan returns the document calls that apply a step. Only actions
// that plan calls can be served; direct-run builtins need the live page.
// POST /api/actions/:action/run
func (s *Server) handlePlan(c echo.Context) error {
	step, err := s.bindStep(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	d, err := s.registry.Lookup(step.Action)
	if err != nil {
		return errorJSON(c, http.StatusNotFound, "Unrecognized action specified by step: "+step.Action)
	}
	if d.PlanCalls == nil {
		return errorJSON(c, http.StatusNotImplemented, "action "+step.Action+" cannot be planned remotely")
	}
	calls, err := d.PlanCalls(c.Request().Context(), step)
	if err != nil {
		return errorJSON(c, http.StatusUnprocessableEntity, err.Error())
	}
	if calls == nil {
		calls = []actions.Call{}
	}
	return c.JSON(http.StatusOK, calls)
}

// bindStep decodes the request step; the path names the action.
func (s *Server) bindStep(c echo.Context) (schema.Step, error) {
	var req stepRequest
	if err := c.Bind(&req); err != nil {
		return schema.Step{}, errors.New("invalid request body")
	}
	req.Step.Action = c.Param("action")
	return req.Step, nil
}

// GET /api/templates
func (s *Server) handleListTemplates(c echo.Context) error {
	list, err := s.store.List(c.Request().Context())
	if err != nil {
		s.logger.Error("list templates", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "failed to list templates")
	}
	if list == nil {
		list = []store.Summary{}
	}
	return c.JSON(http.StatusOK, list)
}

// handleSaveTemplate validates and stores a test file.
// POST /api/templates
func (s *Server) handleSaveTemplate(c echo.Context) error {
	var tf schema.TestFile
	if err := c.Bind(&tf); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if err := store.ValidateName(tf.Name); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if tf.Steps == nil {
		tf.Steps = []schema.Step{}
	}
	if errs := validate.ValidateTestFile(&tf, s.registry); validate.HasErrors(errs) {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			if e.Severity == "error" {
				msgs = append(msgs, e.Error())
			}
		}
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": "invalid test file", "details": msgs})
	}
	if err := s.store.Save(c.Request().Context(), &tf); err != nil {
		s.logger.Error("save template", zap.String("name", tf.Name), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "failed to save template")
	}
	return c.JSON(http.StatusCreated, map[string]string{"name": tf.Name})
}

// GET /api/templates/:name
func (s *Server) handleGetTemplate(c echo.Context) error {
	tf, err := s.store.Load(c.Request().Context(), c.Param("name"))
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "template not found")
	}
	if err != nil {
		s.logger.Error("load template", zap.String("name", c.Param("name")), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "failed to load template")
	}
	return c.JSON(http.StatusOK, tf)
}

// DELETE /api/templates/:name
func (s *Server) handleDeleteTemplate(c echo.Context) error {
	err := s.store.Delete(c.Request().Context(), c.Param("name"))
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "template not found")
	}
	if err != nil {
		s.logger.Error("delete template", zap.String("name", c.Param("name")), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "failed to delete template")
	}
	return c.NoContent(http.StatusNoContent)
}
