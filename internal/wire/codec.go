// Package wire defines the agent and collaborator message shapes and their
// JSON and MessagePack encodings.
package wire

import (
	"encoding/json"
	"io"
	"mime"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
)

// Codec encodes and decodes request and response bodies.
type Codec interface {
	Decode(r io.Reader, v any) error
	Encode(w io.Writer, v any) error
	ContentType() string
}

// ForContentType picks the codec for a Content-Type or Accept value.
// Anything that is not MessagePack is treated as JSON.
func ForContentType(ct string) Codec {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return JSON{}
	}
	switch mt {
	case ContentTypeMsgpack, "application/x-msgpack":
		return Msgpack{}
	default:
		return JSON{}
	}
}

type JSON struct{}

func (JSON) Decode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (JSON) Encode(w io.Writer, v any) error { return json.NewEncoder(w).Encode(v) }

func (JSON) ContentType() string { return ContentTypeJSON }

type Msgpack struct{}

func (Msgpack) Decode(r io.Reader, v any) error {
	dec := msgpack.NewDecoder(r)
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func (Msgpack) Encode(w io.Writer, v any) error {
	enc := msgpack.NewEncoder(w)
	enc.SetCustomStructTag("json")
	return enc.Encode(v)
}

func (Msgpack) ContentType() string { return ContentTypeMsgpack }
