// Package message exports unary endpoints over a watermill router. Each
// endpoint consumes one topic and publishes its responses to a reply topic.
package message

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/evalflow/internal/runtime/delegate"
	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	"github.com/drblury/evalflow/internal/runtime/evaluation"
	"github.com/drblury/evalflow/internal/runtime/event"
	"github.com/drblury/evalflow/internal/runtime/exporter"
	"github.com/drblury/evalflow/internal/runtime/jsoncodec"
	"github.com/drblury/evalflow/internal/runtime/logging"
	"github.com/drblury/evalflow/internal/runtime/metadata"
	"github.com/drblury/evalflow/internal/runtime/request"
)

const Type = "message"

// Metadata keys read from requests and written to replies.
const (
	MetadataCorrelationID = "correlation_id"
	MetadataEncoding      = "evalflow_encoding"
	MetadataEndpoint      = "evalflow_endpoint"
	MetadataStatus        = "evalflow_status"

	// EncodingProto marks payloads encoded as a protojson google.protobuf.Struct.
	EncodingProto = "proto"

	StatusOK    = "ok"
	StatusError = "error"
)

// Option configures an Exporter.
type Option func(*Exporter)

func WithErrorForwarder(f evaluation.ErrorForwarder) Option {
	return func(e *Exporter) { e.forwarder = f }
}

// WithReplySuffix changes the suffix appended to the consumed topic to form
// the reply topic. The default is ".reply".
func WithReplySuffix(suffix string) Option {
	return func(e *Exporter) {
		if suffix != "" {
			e.replySuffix = suffix
		}
	}
}

// Exporter registers one router handler per endpoint.
type Exporter struct {
	router      *message.Router
	subscriber  message.Subscriber
	publisher   message.Publisher
	logger      logging.ServiceLogger
	forwarder   evaluation.ErrorForwarder
	replySuffix string
}

func New(router *message.Router, subscriber message.Subscriber, publisher message.Publisher, logger logging.ServiceLogger, opts ...Option) (*Exporter, error) {
	switch {
	case router == nil:
		return nil, errspkg.ErrServiceRequired
	case subscriber == nil:
		return nil, errspkg.ErrSubscriberRequired
	case publisher == nil:
		return nil, errspkg.ErrPublisherRequired
	case logger == nil:
		return nil, errspkg.ErrLoggerRequired
	}
	e := &Exporter{
		router:      router,
		subscriber:  subscriber,
		publisher:   publisher,
		logger:      logger.With(logging.LogFields{logging.FieldExporter: Type}),
		replySuffix: ".reply",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Exporter) Type() string { return Type }

func (e *Exporter) metadata() delegate.ExporterMetadata {
	return delegate.ExporterMetadata{Type: Type, ParameterNamespace: "payload"}
}

// ReplyTopic is the topic responses of ep are published to.
func (e *Exporter) ReplyTopic(ep exporter.Endpoint) string {
	return ep.TopicName() + e.replySuffix
}

// Export adds a handler consuming the endpoint topic. Only unary endpoints
// can be served over messages.
func (e *Exporter) Export(ep exporter.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	if ep.Pattern != evaluation.Unary {
		return errspkg.ErrUnsupportedPattern
	}

	topic := ep.TopicName()
	e.router.AddHandler(
		Type+"-"+ep.Name,
		topic,
		e.subscriber,
		e.ReplyTopic(ep),
		e.publisher,
		e.handle(ep),
	)
	e.logger.Info("Endpoint exported", logging.LogFields{
		"endpoint":    ep.Name,
		"topic":       topic,
		"reply_topic": e.ReplyTopic(ep),
	})
	return nil
}

// handle evaluates one message. Bad input is answered with an error reply
// since redelivery cannot fix it; other failures are returned so the router
// middleware can retry them.
func (e *Exporter) handle(ep exporter.Endpoint) message.HandlerFunc {
	forwarder := ep.ForwarderOr(e.forwarder)
	return func(msg *message.Message) ([]*message.Message, error) {
		ev, err := ep.Instance(e.metadata())
		if err != nil {
			return nil, err
		}
		ctx := msg.Context()
		req := request.NewDecoded(ctx, strategyFor(msg), &request.Payload{
			Headers: metadata.FromWatermill(msg.Metadata),
			Body:    msg.Payload,
			Fields:  fields(msg.Payload),
		}, msg.Metadata.Get(MetadataCorrelationID))

		resp, err := evaluation.NewDriver(ev, evaluation.ResponseTransformer(), evaluation.WithErrorForwarder(forwarder)).
			Unary(ctx, event.Of(event.Request(req), event.End()))
		if err != nil {
			if errspkg.KindOf(err) != errspkg.KindBadInput {
				return nil, err
			}
			return e.reply(ep, msg, StatusError, errorBody(err))
		}
		content, ok := resp.Content()
		if !ok {
			return e.reply(ep, msg, StatusOK, nil)
		}
		return e.reply(ep, msg, StatusOK, content)
	}
}

func (e *Exporter) reply(ep exporter.Endpoint, msg *message.Message, status string, body any) ([]*message.Message, error) {
	var payload []byte
	if body != nil {
		encoded, err := jsoncodec.Marshal(body)
		if err != nil {
			return nil, errspkg.Wrap(errspkg.KindServerError, "Encoding the reply failed.", err)
		}
		payload = encoded
	}
	out := message.NewMessage(watermill.NewUUID(), payload)
	if id := msg.Metadata.Get(MetadataCorrelationID); id != "" {
		out.Metadata.Set(MetadataCorrelationID, id)
	}
	out.Metadata.Set(MetadataEndpoint, ep.Name)
	out.Metadata.Set(MetadataStatus, status)
	return []*message.Message{out}, nil
}

func strategyFor(msg *message.Message) request.Strategy {
	if strings.EqualFold(msg.Metadata.Get(MetadataEncoding), EncodingProto) {
		return request.ProtoStrategy{}
	}
	return request.JSONStrategy{}
}

// fields exposes the members of an object payload to parameters of any
// location. Other payloads are left to content parameters.
func fields(payload []byte) map[string]json.RawMessage {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var members map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(trimmed, &members); err != nil {
		return nil
	}
	return members
}

type errorPayload struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(err error) errorPayload {
	typed := errspkg.As(err)
	var body errorPayload
	body.Error.Kind = typed.Kind.String()
	body.Error.Message = typed.StandardMessage()
	return body
}
