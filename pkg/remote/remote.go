// Package remote delegates actions to another process: an HTTP service or a
// command speaking JSON-RPC on stdio. A remote action generates its own
// code and plans the calls it runs; the calls are replayed locally.
package remote

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// Spec is the wire description of a remote action.
type Spec struct {
	Action            string          `json:"action"`
	Label             string          `json:"label"`
	Params            []actions.Param `json:"params,omitempty"`
	HideSelectorInput bool            `json:"hideSelectorInput,omitempty"`
}

// SpecOf describes a registered action for the wire.
func SpecOf(d *actions.Descriptor) Spec {
	return Spec{
		Action:            d.Action,
		Label:             d.Label,
		Params:            d.Params,
		HideSelectorInput: d.HideSelectorInput,
	}
}

// Client talks to one remote action provider.
type Client interface {
	List(ctx context.Context) ([]Spec, error)
	Generate(ctx context.Context, step schema.Step) (string, error)
	Run(ctx context.Context, step schema.Step) ([]actions.Call, error)
	Close() error
}

// Register lists the provider's actions and installs a descriptor for each.
// A remote action replaces a builtin of the same name.
func Register(ctx context.Context, registry *actions.Registry, client Client, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	specs, err := client.List(ctx)
	if err != nil {
		return fmt.Errorf("list remote actions: %w", err)
	}
	for _, spec := range specs {
		if spec.Action == "" {
			return fmt.Errorf("remote action without a name")
		}
		registry.Replace(Descriptor(spec, client))
		logger.Debug("registered remote action", zap.String("action", spec.Action))
	}
	return nil
}

// Descriptor builds a registry descriptor delegating to client.
func Descriptor(spec Spec, client Client) *actions.Descriptor {
	return &actions.Descriptor{
		Action:            spec.Action,
		Label:             spec.Label,
		Params:            spec.Params,
		HideSelectorInput: spec.HideSelectorInput,
		GenerateCode: func(ctx context.Context, step schema.Step) (string, error) {
			return client.Generate(ctx, step)
		},
		PlanCalls: func(ctx context.Context, step schema.Step) ([]actions.Call, error) {
			return client.Run(ctx, step)
		},
	}
}
