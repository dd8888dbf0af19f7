package request

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"reflect"
	"sync"

	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/drblury/evalflow/internal/runtime/jsoncodec"
	"github.com/drblury/evalflow/internal/runtime/metadata"
)

// Payload is the raw wire data of one message.
type Payload struct {
	Path    map[string]string
	Query   url.Values
	Headers metadata.Metadata
	Body    []byte
	// Fields carries named values delivered out of band, such as the
	// parameter object of a WebSocket frame. Named parameters that are not
	// found in their own location fall back to it.
	Fields map[string]json.RawMessage

	bodyOnce   sync.Once
	bodyFields map[string]json.RawMessage
	bodyErr    error

	structOnce sync.Once
	structVal  *structpb.Struct
	structErr  error
}

func (p *Payload) fields() (map[string]json.RawMessage, error) {
	p.bodyOnce.Do(func() {
		if len(bytes.TrimSpace(p.Body)) == 0 {
			return
		}
		p.bodyErr = jsoncodec.Unmarshal(p.Body, &p.bodyFields)
	})
	return p.bodyFields, p.bodyErr
}

func (p *Payload) protoStruct() (*structpb.Struct, error) {
	p.structOnce.Do(func() {
		if len(bytes.TrimSpace(p.Body)) == 0 {
			return
		}
		s := &structpb.Struct{}
		if err := protojson.Unmarshal(p.Body, s); err != nil {
			p.structErr = err
			return
		}
		p.structVal = s
	})
	return p.structVal, p.structErr
}

func (p *Payload) lookupString(desc *Descriptor) (any, bool) {
	switch desc.Location {
	case LocationPath:
		if v, ok := p.Path[desc.Name]; ok {
			return v, true
		}
	case LocationHeader:
		if v, ok := p.Headers.Lookup(desc.Name); ok {
			return v, true
		}
	case LocationQuery:
		if vals, ok := p.Query[desc.Name]; ok && len(vals) > 0 {
			if len(vals) == 1 && desc.Type.Kind() != reflect.Slice {
				return vals[0], true
			}
			return vals, true
		}
	}
	return nil, false
}

// Strategy decodes one parameter out of a Payload. It returns
// ErrNoValuePresent when the payload does not carry the parameter.
type Strategy interface {
	Decode(p *Payload, desc *Descriptor) (any, error)
}

// JSONStrategy reads bodies as JSON through sonic and weakly converts
// path, query and header strings.
type JSONStrategy struct{}

func (JSONStrategy) Decode(p *Payload, desc *Descriptor) (any, error) {
	if desc.Location == LocationContent {
		if len(bytes.TrimSpace(p.Body)) == 0 || bytes.Equal(bytes.TrimSpace(p.Body), []byte("null")) {
			return nil, ErrNoValuePresent
		}
		return decodeJSON(p.Body, desc.Type)
	}
	if raw, ok := p.lookupString(desc); ok {
		return decodeWeak(raw, desc.Type)
	}
	fields := p.Fields
	if desc.Location == LocationBody && fields == nil {
		parsed, err := p.fields()
		if err != nil {
			return nil, err
		}
		fields = parsed
	}
	raw, ok := fields[desc.Name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, ErrNoValuePresent
	}
	return decodeJSON(raw, desc.Type)
}

// ValuesStrategy decodes url.Values style payloads. Content parameters are
// assembled from every query value and decoded with mapstructure, matching
// struct fields by their json tags.
type ValuesStrategy struct{}

func (ValuesStrategy) Decode(p *Payload, desc *Descriptor) (any, error) {
	if desc.Location == LocationContent {
		if len(p.Query) == 0 {
			return nil, ErrNoValuePresent
		}
		input := make(map[string]any, len(p.Query))
		for k, vals := range p.Query {
			if len(vals) == 1 {
				input[k] = vals[0]
			} else {
				input[k] = vals
			}
		}
		return decodeWeak(input, desc.Type)
	}
	raw, ok := p.lookupString(desc)
	if !ok {
		return nil, ErrNoValuePresent
	}
	return decodeWeak(raw, desc.Type)
}

// ProtoStrategy reads bodies encoded as a protojson google.protobuf.Struct.
type ProtoStrategy struct{}

func (ProtoStrategy) Decode(p *Payload, desc *Descriptor) (any, error) {
	if raw, ok := p.lookupString(desc); ok {
		return decodeWeak(raw, desc.Type)
	}
	s, err := p.protoStruct()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoValuePresent
	}
	if desc.Location == LocationContent {
		return decodeWeak(s.AsMap(), desc.Type)
	}
	field, ok := s.GetFields()[desc.Name]
	if !ok {
		return nil, ErrNoValuePresent
	}
	if _, isNull := field.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, ErrNoValuePresent
	}
	return decodeWeak(field.AsInterface(), desc.Type)
}

func decodeJSON(raw []byte, typ reflect.Type) (any, error) {
	target := reflect.New(typ)
	if err := jsoncodec.Unmarshal(raw, target.Interface()); err != nil {
		return nil, err
	}
	return target.Elem().Interface(), nil
}

func decodeWeak(input any, typ reflect.Type) (any, error) {
	if s, ok := input.(string); ok && typ.Kind() == reflect.String {
		return reflect.ValueOf(s).Convert(typ).Interface(), nil
	}
	target := reflect.New(typ)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           target.Interface(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(input); err != nil {
		return nil, err
	}
	return target.Elem().Interface(), nil
}

// Decoded is a Request backed by a Payload and a Strategy.
type Decoded struct {
	ctx      context.Context
	strategy Strategy
	payload  *Payload
	remote   string
	info     metadata.Information
}

// NewDecoded adapts a wire payload into a Request. Header metadata is
// exposed through the information set.
func NewDecoded(ctx context.Context, strategy Strategy, payload *Payload, remote string) *Decoded {
	if payload == nil {
		payload = &Payload{}
	}
	return &Decoded{
		ctx:      ctx,
		strategy: strategy,
		payload:  payload,
		remote:   remote,
		info:     payload.Headers.Information(),
	}
}

func (d *Decoded) RetrieveParameter(desc *Descriptor) (any, error) {
	v, err := d.strategy.Decode(d.payload, desc)
	if err != nil {
		return nil, err
	}
	if err := checkType(desc, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (d *Decoded) Information() metadata.Information { return d.info }
func (d *Decoded) RemoteAddress() string             { return d.remote }
func (d *Decoded) Context() context.Context          { return d.ctx }
