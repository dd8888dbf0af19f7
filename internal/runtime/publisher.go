package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
	msgexporter "github.com/drblury/evalflow/internal/runtime/exporter/message"
	idspkg "github.com/drblury/evalflow/internal/runtime/ids"
	"github.com/drblury/evalflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/evalflow/internal/runtime/metadata"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// Producer emits requests for message endpoints and notifications for
// observed topics onto the configured transport.
type Producer interface {
	PublishJSON(ctx context.Context, topic string, payload any, metadata metadatapkg.Metadata) error
	PublishProto(ctx context.Context, topic string, payload proto.Message, metadata metadatapkg.Metadata) error
}

// NewJSONMessage encodes payload as JSON. Every message gets a correlation
// id unless metadata already carries one.
func NewJSONMessage(payload any, metadata metadatapkg.Metadata) (*message.Message, error) {
	if payload == nil {
		return nil, errspkg.ErrMessagePayloadRequired
	}
	body, err := jsoncodec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message payload: %w", err)
	}
	return newMessage(body, metadata), nil
}

// NewProtoMessage encodes payload with protojson and marks the message so
// that message endpoints decode it as a protobuf struct.
func NewProtoMessage(payload proto.Message, metadata metadatapkg.Metadata) (*message.Message, error) {
	if payload == nil {
		return nil, errspkg.ErrMessagePayloadRequired
	}
	body, err := protoJSONMarshalOptions.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message payload: %w", err)
	}
	msg := newMessage(body, metadata)
	msg.Metadata.Set(msgexporter.MetadataEncoding, msgexporter.EncodingProto)
	return msg, nil
}

func newMessage(body []byte, metadata metadatapkg.Metadata) *message.Message {
	msg := message.NewMessage(idspkg.CreateULID(), body)
	msg.Metadata = metadatapkg.ToWatermill(metadata)
	if msg.Metadata.Get(msgexporter.MetadataCorrelationID) == "" {
		msg.Metadata.Set(msgexporter.MetadataCorrelationID, idspkg.CreateULID())
	}
	return msg
}

// Publish sends msg to topic.
func Publish(ctx context.Context, publisher message.Publisher, topic string, msg *message.Message) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}

// PublishJSON publishes payload using the Service publisher.
func (s *Service) PublishJSON(ctx context.Context, topic string, payload any, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	msg, err := NewJSONMessage(payload, metadata)
	if err != nil {
		return err
	}
	return Publish(ctx, s.publisher, topic, msg)
}

// PublishProto publishes payload using the Service publisher.
func (s *Service) PublishProto(ctx context.Context, topic string, payload proto.Message, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	msg, err := NewProtoMessage(payload, metadata)
	if err != nil {
		return err
	}
	return Publish(ctx, s.publisher, topic, msg)
}
