package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies Watermill message metadata.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill copies metadata into a Watermill map.
func ToWatermill(metadata Metadata) message.Metadata {
	wm := make(message.Metadata, len(metadata))
	for k, v := range metadata {
		wm[k] = v
	}
	return wm
}

// InformationFromMessage exposes the metadata of msg as request information.
func InformationFromMessage(msg *message.Message) Information {
	if msg == nil {
		return Information{}
	}
	return FromWatermill(msg.Metadata).Information()
}
