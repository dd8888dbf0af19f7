package evaluation

import (
	"context"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/response"
)

// StrategyKind selects how a failed evaluation continues.
type StrategyKind uint8

const (
	// StrategyAbort fails the exchange with an error.
	StrategyAbort StrategyKind = iota
	// StrategyGraceful recovers with a value that is emitted instead.
	StrategyGraceful
	// StrategyIgnore drops the failure and continues with the next event.
	StrategyIgnore
	// StrategyComplete ends the exchange without an error.
	StrategyComplete
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyGraceful:
		return "graceful"
	case StrategyIgnore:
		return "ignore"
	case StrategyComplete:
		return "complete"
	default:
		return "abort"
	}
}

// ErrorStrategy is the decision a ResultTransformer takes for one error.
type ErrorStrategy[O any] struct {
	Kind  StrategyKind
	Value O
	Err   error
}

func Graceful[O any](v O) ErrorStrategy[O] { return ErrorStrategy[O]{Kind: StrategyGraceful, Value: v} }
func Ignore[O any]() ErrorStrategy[O]      { return ErrorStrategy[O]{Kind: StrategyIgnore} }
func Abort[O any](err error) ErrorStrategy[O] {
	return ErrorStrategy[O]{Kind: StrategyAbort, Err: err}
}
func Complete[O any]() ErrorStrategy[O] { return ErrorStrategy[O]{Kind: StrategyComplete} }

// ResultTransformer turns evaluation results into the exporter's wire
// representation O.
type ResultTransformer[O any] interface {
	Transform(ctx context.Context, r response.Response[response.Erased]) (O, error)
	Handle(err error) ErrorStrategy[O]
}

// TransformerFuncs builds a ResultTransformer from functions. A nil
// HandleFunc aborts on every error.
type TransformerFuncs[O any] struct {
	TransformFunc func(ctx context.Context, r response.Response[response.Erased]) (O, error)
	HandleFunc    func(err error) ErrorStrategy[O]
}

func (t TransformerFuncs[O]) Transform(ctx context.Context, r response.Response[response.Erased]) (O, error) {
	return t.TransformFunc(ctx, r)
}

func (t TransformerFuncs[O]) Handle(err error) ErrorStrategy[O] {
	if t.HandleFunc == nil {
		return Abort[O](err)
	}
	return t.HandleFunc(err)
}

// ResponseTransformer passes responses through unchanged.
func ResponseTransformer() ResultTransformer[response.Response[response.Erased]] {
	return TransformerFuncs[response.Response[response.Erased]]{
		TransformFunc: func(_ context.Context, r response.Response[response.Erased]) (response.Response[response.Erased], error) {
			return r, nil
		},
	}
}

func missingContent() error {
	return errspkg.New(errspkg.KindServerError, "Missing Content").
		WithDescription("the evaluation finished without a response")
}

func unhandled(err error) error {
	return errspkg.Wrap(errspkg.KindServerError, "Unhandled Error", err)
}
