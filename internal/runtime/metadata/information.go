package metadata

import (
	"reflect"
	"sort"
)

// Key identifies a typed entry of an Information set. Two keys are the same
// entry when their names match; the type parameter guards every read.
type Key[T any] struct {
	name string
}

// NewKey declares a typed information key.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// HeaderKey declares a string entry that exporters forward as a wire header.
func HeaderKey(name string) Key[string] {
	return Key[string]{name: headerPrefix + name}
}

const headerPrefix = "header:"

func (k Key[T]) Name() string { return k.name }

type entry struct {
	typ   reflect.Type
	value any
}

// Information is an immutable typed key/value set attached to requests and
// responses. The zero value is empty and ready to use.
type Information struct {
	entries map[string]entry
}

// Get returns the value stored under key. Entries written under the same name
// with a different type are reported as absent.
func Get[T any](info Information, key Key[T]) (T, bool) {
	var zero T
	e, ok := info.entries[key.name]
	if !ok || e.typ != typeOf[T]() {
		return zero, false
	}
	v, ok := e.value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// With returns a copy of info with key set to value.
func With[T any](info Information, key Key[T], value T) Information {
	cloned := info.clone(1)
	cloned.entries[key.name] = entry{typ: typeOf[T](), value: value}
	return cloned
}

// Without returns a copy of info without the named entry.
func (info Information) Without(name string) Information {
	cloned := info.clone(0)
	delete(cloned.entries, name)
	return cloned
}

// Merge returns a copy of info overlaid with other.
func (info Information) Merge(other Information) Information {
	cloned := info.clone(len(other.entries))
	for k, v := range other.entries {
		cloned.entries[k] = v
	}
	return cloned
}

func (info Information) Len() int { return len(info.entries) }

// Names returns the sorted entry names.
func (info Information) Names() []string {
	names := make([]string, 0, len(info.entries))
	for name := range info.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Headers extracts the entries declared through HeaderKey.
func (info Information) Headers() Metadata {
	md := Metadata{}
	for name, e := range info.entries {
		if len(name) <= len(headerPrefix) || name[:len(headerPrefix)] != headerPrefix {
			continue
		}
		if s, ok := e.value.(string); ok {
			md[name[len(headerPrefix):]] = s
		}
	}
	return md
}

// FromHeaders builds an Information set from wire headers.
func FromHeaders(md Metadata) Information {
	info := Information{entries: make(map[string]entry, len(md))}
	for k, v := range md {
		info.entries[headerPrefix+k] = entry{typ: typeOf[string](), value: v}
	}
	return info
}

func (info Information) clone(extra int) Information {
	cloned := Information{entries: make(map[string]entry, len(info.entries)+extra)}
	for k, v := range info.entries {
		cloned.entries[k] = v
	}
	return cloned
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
