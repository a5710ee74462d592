// Package executor applies one recorded step to a live document through the
// action registry.
package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// Executor dispatches steps to their registered action.
type Executor struct {
	registry *actions.Registry
	env      *actions.Env
	logger   *zap.Logger
}

// New returns an Executor running steps from registry against env.
func New(registry *actions.Registry, env *actions.Env, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{registry: registry, env: env, logger: logger}
}

// Registry returns the registry steps are dispatched through.
func (e *Executor) Registry() *actions.Registry { return e.registry }

// Env returns the environment steps run in.
func (e *Executor) Env() *actions.Env { return e.env }

// Execute applies step once. Failures come back as *failure.Error annotated
// with the step id and action.
func (e *Executor) Execute(ctx context.Context, step schema.Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := e.registry.Lookup(step.Action)
	if err != nil {
		return &failure.Error{
			Kind:    failure.KindUnrecognizedAction,
			StepID:  step.ID,
			Action:  step.Action,
			Message: "Unrecognized action specified by step: " + step.Action,
		}
	}

	e.logger.Debug("execute step",
		zap.String("step", step.ID),
		zap.String("action", step.Action),
		zap.String("selector", step.Selector))

	switch {
	case d.RunStep != nil:
		err = d.RunStep(ctx, step, e.env)
	case d.PlanCalls != nil:
		err = e.replay(ctx, d, step)
	default:
		err = &failure.Error{
			Kind:    failure.KindActionContractViolation,
			Message: fmt.Sprintf("Action '%s' does not implement .runStep()", step.Action),
		}
	}
	if err != nil {
		e.logger.Debug("step failed", zap.String("step", step.ID), zap.Error(err))
	}
	return failure.ForStep(err, step.ID, step.Action)
}

func (e *Executor) replay(ctx context.Context, d *actions.Descriptor, step schema.Step) error {
	calls, err := d.PlanCalls(ctx, step)
	if err != nil {
		// Unclassified planning errors, such as a provider outage, are retried.
		return fmt.Errorf("plan calls: %w", err)
	}
	return actions.Replay(ctx, e.env, calls)
}
