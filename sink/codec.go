package sink

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tidewater-io/tidewater/stream"
)

// Codec serializes events for a sink.
type Codec interface {
	Encode(stream.Event) ([]byte, error)
}

// NewCodec returns the codec for a configured format.
func NewCodec(format string) (Codec, error) {
	switch format {
	case "json":
		return jsonCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}

// wireEvent is the downstream event shape: a message field plus an
// @metadata map with blob provenance, matching what the log pipeline's
// filters key on.
type wireEvent struct {
	Message  string       `json:"message" msgpack:"message"`
	Metadata wireMetadata `json:"@metadata" msgpack:"@metadata"`
}

type wireMetadata struct {
	BlobName       string `json:"azure_blob_name" msgpack:"azure_blob_name"`
	Container      string `json:"azure_blob_container" msgpack:"azure_blob_container"`
	StorageAccount string `json:"azure_blob_storage_account" msgpack:"azure_blob_storage_account"`
	LineNumber     int64  `json:"azure_blob_line_number" msgpack:"azure_blob_line_number"`
	LastModified   string `json:"azure_blob_last_modified" msgpack:"azure_blob_last_modified"`
}

func toWire(ev stream.Event) wireEvent {
	return wireEvent{
		Message: ev.Message,
		Metadata: wireMetadata{
			BlobName:       ev.Metadata.BlobName,
			Container:      ev.Metadata.Container,
			StorageAccount: ev.Metadata.StorageAccount,
			LineNumber:     ev.Metadata.LineNumber,
			LastModified:   ev.Metadata.LastModified,
		},
	}
}

type jsonCodec struct{}

func (jsonCodec) Encode(ev stream.Event) ([]byte, error) {
	return json.Marshal(toWire(ev))
}

type msgpackCodec struct{}

func (msgpackCodec) Encode(ev stream.Event) ([]byte, error) {
	return msgpack.Marshal(toWire(ev))
}
