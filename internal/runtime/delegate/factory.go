package delegate

import (
	"context"

	"github.com/drblury/evalflow/internal/runtime/connection"
	"github.com/drblury/evalflow/internal/runtime/metadata"
	"github.com/drblury/evalflow/internal/runtime/request"
	"github.com/drblury/evalflow/internal/runtime/response"
)

// ExporterMetadata describes the exporter that owns an instance.
type ExporterMetadata struct {
	Type               string
	ParameterNamespace string
}

// ExporterKey is the environment entry every factory-built instance carries.
var ExporterKey = metadata.NewKey[ExporterMetadata]("evalflow.exporter")

// Evaluator is the type erased delegate the evaluation drivers work with.
type Evaluator interface {
	Name() string
	Descriptors() []*request.Descriptor
	Evaluate(ctx context.Context, req request.Request, state connection.State) (response.Response[response.Erased], error)
	EvaluateTrigger(ctx context.Context, trigger TriggerEvent, req request.Request, state connection.State) (response.Response[response.Erased], error)
	Register(callback func(TriggerEvent)) *Observation
}

// Erased exposes d as an Evaluator.
func (d *Delegate[O]) Erased() Evaluator { return erased[O]{d} }

type erased[O any] struct {
	d *Delegate[O]
}

func (e erased[O]) Name() string                       { return e.d.Name() }
func (e erased[O]) Descriptors() []*request.Descriptor { return e.d.Descriptors() }

func (e erased[O]) Register(callback func(TriggerEvent)) *Observation {
	return e.d.Register(callback)
}

func (e erased[O]) Evaluate(ctx context.Context, req request.Request, state connection.State) (response.Response[response.Erased], error) {
	r, err := e.d.Evaluate(ctx, req, state)
	if err != nil {
		return response.Response[response.Erased]{}, err
	}
	return response.TypeErase(r), nil
}

func (e erased[O]) EvaluateTrigger(ctx context.Context, trigger TriggerEvent, req request.Request, state connection.State) (response.Response[response.Erased], error) {
	r, err := e.d.EvaluateTrigger(ctx, trigger, req, state)
	if err != nil {
		return response.Response[response.Erased]{}, err
	}
	return response.TypeErase(r), nil
}

// InstanceFactory hands out fresh, activated evaluators. Exporters call it
// once per connection.
type InstanceFactory interface {
	Name() string
	Instance() (Evaluator, error)
}

// Factory creates delegate instances of one Definition for one exporter.
type Factory[O any] struct {
	def      Definition[O]
	exporter ExporterMetadata
	env      metadata.Information
}

// NewFactory binds def to the exporter described by exporter. env is
// injected into every instance next to the exporter metadata.
func NewFactory[O any](def Definition[O], exporter ExporterMetadata, env metadata.Information) *Factory[O] {
	return &Factory[O]{def: def, exporter: exporter, env: env}
}

func (f *Factory[O]) Name() string { return f.def.Name }

// New returns an activated typed instance.
func (f *Factory[O]) New() (*Delegate[O], error) {
	d := New(f.def)
	d.Inject(metadata.With(f.env, ExporterKey, f.exporter))
	if err := d.Activate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (f *Factory[O]) Instance() (Evaluator, error) {
	d, err := f.New()
	if err != nil {
		return nil, err
	}
	return d.Erased(), nil
}
