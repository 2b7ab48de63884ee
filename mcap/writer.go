package mcap

import (
	"encoding/json"
	"io"

	foxmcap "github.com/foxglove/mcap/go/mcap"
	"github.com/pkg/errors"

	"github.com/roboto-ai/rdk"
)

// Writer writes messages into a chunked, LZ4-compressed MCAP stream,
// registering schemas and channels on first use. Payloads are JSON-encoded.
type Writer struct {
	w         *foxmcap.Writer
	schemaIDs map[string]uint16
	chanIDs   map[string]uint16
	sequence  map[uint16]uint32
}

// NewWriter wraps w in an MCAP writer and writes the header.
func NewWriter(w io.Writer) (*Writer, error) {
	mw, err := foxmcap.NewWriter(w, &foxmcap.WriterOptions{
		Chunked:     true,
		Compression: foxmcap.CompressionLZ4,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating mcap writer")
	}
	if err := mw.WriteHeader(&foxmcap.Header{Library: "rdk"}); err != nil {
		return nil, errors.Wrap(err, "writing header")
	}
	return &Writer{
		w:         mw,
		schemaIDs: map[string]uint16{},
		chanIDs:   map[string]uint16{},
		sequence:  map[uint16]uint32{},
	}, nil
}

// WriteMessage writes one message, registering its schema and channel if
// they haven't been seen yet.
func (w *Writer) WriteMessage(msg *rdk.Message) error {
	schemaName := rdk.SchemaFor(msg.Body)
	schemaID, ok := w.schemaIDs[schemaName]
	if !ok {
		// schema id 0 is reserved for schemaless channels
		schemaID = uint16(len(w.schemaIDs) + 1)
		if err := w.w.WriteSchema(&foxmcap.Schema{
			ID:       schemaID,
			Name:     schemaName,
			Encoding: "jsonschema",
		}); err != nil {
			return errors.Wrapf(err, "writing schema %s", schemaName)
		}
		w.schemaIDs[schemaName] = schemaID
	}

	chanID, ok := w.chanIDs[msg.Topic]
	if !ok {
		chanID = uint16(len(w.chanIDs))
		if err := w.w.WriteChannel(&foxmcap.Channel{
			ID:              chanID,
			SchemaID:        schemaID,
			Topic:           msg.Topic,
			MessageEncoding: "json",
		}); err != nil {
			return errors.Wrapf(err, "writing channel %s", msg.Topic)
		}
		w.chanIDs[msg.Topic] = chanID
	}

	data, err := json.Marshal(msg.Body)
	if err != nil {
		return errors.Wrap(err, "marshaling body")
	}
	seq := w.sequence[chanID]
	w.sequence[chanID] = seq + 1
	return errors.Wrap(w.w.WriteMessage(&foxmcap.Message{
		ChannelID:   chanID,
		Sequence:    seq,
		LogTime:     uint64(msg.LogTime),
		PublishTime: uint64(msg.LogTime),
		Data:        data,
	}), "writing message")
}

// Close finishes the MCAP stream. It does not close the underlying writer.
func (w *Writer) Close() error {
	return errors.Wrap(w.w.Close(), "closing mcap writer")
}
