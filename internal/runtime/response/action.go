// Package response defines the protocol agnostic envelopes produced by a
// handler evaluation.
package response

// Kind tags the variant of an Action.
type Kind uint8

const (
	KindNothing Kind = iota
	KindSend
	KindFinal
	KindAutomatic
	KindEnd
)

func (k Kind) String() string {
	switch k {
	case KindSend:
		return "send"
	case KindFinal:
		return "final"
	case KindAutomatic:
		return "automatic"
	case KindEnd:
		return "end"
	default:
		return "nothing"
	}
}

// Action is what a handler returns: send and keep the stream open, send the
// final value, send nothing, end without a value, or let the framework
// decide based on the connection state.
type Action[T any] struct {
	kind  Kind
	value T
}

func Nothing[T any]() Action[T]        { return Action[T]{kind: KindNothing} }
func Send[T any](v T) Action[T]        { return Action[T]{kind: KindSend, value: v} }
func Final[T any](v T) Action[T]       { return Action[T]{kind: KindFinal, value: v} }
func Automatic[T any](v T) Action[T]   { return Action[T]{kind: KindAutomatic, value: v} }
func End[T any]() Action[T]            { return Action[T]{kind: KindEnd} }
func (a Action[T]) Kind() Kind         { return a.kind }
func (a Action[T]) IsTerminal() bool   { return a.kind == KindFinal || a.kind == KindEnd }
func (a Action[T]) carriesValue() bool { return a.kind == KindSend || a.kind == KindFinal || a.kind == KindAutomatic }

// Element returns the carried value. Nothing and End carry none.
func (a Action[T]) Element() (T, bool) {
	if !a.carriesValue() {
		var zero T
		return zero, false
	}
	return a.value, true
}

// MapAction transforms the carried value and keeps the variant.
func MapAction[T, U any](a Action[T], f func(T) U) Action[U] {
	out := Action[U]{kind: a.kind}
	if a.carriesValue() {
		out.value = f(a.value)
	}
	return out
}

// EraseAction converts the action into an erased one. Values that are
// already Erased are not wrapped again.
func EraseAction[T any](a Action[T]) Action[Erased] {
	return MapAction(a, func(v T) Erased { return Erase(v) })
}

// TypedAction restores a typed action. Valueless variants always succeed.
func TypedAction[T any](a Action[Erased]) (Action[T], bool) {
	out := Action[T]{kind: a.kind}
	if !a.carriesValue() {
		return out, true
	}
	v, ok := unerase[T](a.value)
	if !ok {
		return Action[T]{}, false
	}
	out.value = v
	return out, true
}
