// Package jsoncodec is the single JSON entry point of evalflow. It is backed
// by sonic configured for encoding/json compatibility.
package jsoncodec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Decode(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}

// WriteLine writes v as one newline delimited JSON record.
func WriteLine(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

// SplitArray decodes a JSON array into its raw elements. A single JSON
// object is treated as an array of one element; an empty body yields none.
func SplitArray(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0:
		return nil, nil
	case trimmed[0] == '{':
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	case trimmed[0] != '[':
		return nil, fmt.Errorf("jsoncodec: expected array or object, got %q", trimmed[0])
	}
	var elements []json.RawMessage
	if err := Unmarshal(trimmed, &elements); err != nil {
		return nil, err
	}
	return elements, nil
}
