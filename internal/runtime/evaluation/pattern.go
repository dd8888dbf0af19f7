// Package evaluation drives delegates through the event sequence of one
// connection for each communication pattern.
package evaluation

import "strings"

// Pattern is the message cardinality of an endpoint.
type Pattern uint8

const (
	Unary Pattern = iota
	ClientStream
	ServiceStream
	Bidirectional
)

func (p Pattern) String() string {
	switch p {
	case ClientStream:
		return "clientStream"
	case ServiceStream:
		return "serviceStream"
	case Bidirectional:
		return "bidirectional"
	default:
		return "unary"
	}
}

// ClientStreams reports whether clients send more than one message.
func (p Pattern) ClientStreams() bool { return p == ClientStream || p == Bidirectional }

// ServiceStreams reports whether the service answers with more than one
// message.
func (p Pattern) ServiceStreams() bool { return p == ServiceStream || p == Bidirectional }

// ParsePattern accepts the String form, case insensitive, plus the
// kebab-case spellings used in configuration files.
func ParsePattern(s string) (Pattern, bool) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "")) {
	case "unary", "":
		return Unary, true
	case "clientstream":
		return ClientStream, true
	case "servicestream":
		return ServiceStream, true
	case "bidirectional":
		return Bidirectional, true
	}
	return Unary, false
}
