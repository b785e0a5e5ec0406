package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/user/botstream/internal/types"
)

var (
	// ErrMalformedPayload means the raw payload is not a parseable envelope.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrSchemaMismatch means a known discriminant carried an invalid data shape.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// Validate parses a raw inbound payload and classifies it by discriminant.
// Unrecognised discriminants yield *Unknown with a nil error.
func Validate(raw []byte) (Event, error) {
	envelope, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	name, ok := envelope["event"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: missing event discriminant", ErrMalformedPayload)
	}

	meta, err := parseMeta(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch Kind(name) {
	case KindChunk:
		return parseChunk(meta, envelope["data"])
	case KindStop:
		return &Stop{Meta: meta}, nil
	case KindIntent:
		return parseIntent(meta, envelope["data"])
	default:
		return &Unknown{Meta: meta, Name: name}, nil
	}
}

// decodeObject decodes raw into a JSON object, keeping numbers as json.Number so
// that integers can be told apart from strings and fractions.
func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after envelope")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("envelope is %s, not an object", jsonType(v))
	}
	return obj, nil
}

func parseMeta(envelope map[string]any) (Meta, error) {
	var meta Meta

	if v, ok := envelope["id"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return meta, fmt.Errorf("id is %s, not a string", jsonType(v))
		}
		meta.ID = types.EventID(s)
	}
	if v, ok := envelope["interactionId"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return meta, fmt.Errorf("interactionId is %s, not a string", jsonType(v))
		}
		meta.InteractionID = s
	}
	if v, ok := envelope["timestamp"]; ok && v != nil {
		n, ok := v.(json.Number)
		if !ok {
			return meta, fmt.Errorf("timestamp is %s, not a number", jsonType(v))
		}
		ms, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil || math.IsInf(f, 0) {
				return meta, fmt.Errorf("timestamp %s out of range", n)
			}
			ms = int64(f)
		}
		meta.Timestamp = time.UnixMilli(ms)
	}
	return meta, nil
}

func parseChunk(meta Meta, data any) (*Chunk, error) {
	obj, err := dataObject(KindChunk, data)
	if err != nil {
		return nil, err
	}
	botID, err := requireString(KindChunk, obj, "botId")
	if err != nil {
		return nil, err
	}
	messageID, err := requireString(KindChunk, obj, "botMessageId")
	if err != nil {
		return nil, err
	}
	seq, err := requireSeq(KindChunk, obj, "seq")
	if err != nil {
		return nil, err
	}
	// Empty text is a valid fragment; only presence and type are checked.
	text, ok := obj["text"].(string)
	if !ok {
		return nil, mismatch(KindChunk, "text", obj["text"], "a string")
	}
	return &Chunk{
		Meta:      meta,
		BotID:     botID,
		MessageID: types.MessageID(messageID),
		Seq:       seq,
		Text:      text,
	}, nil
}

func parseIntent(meta Meta, data any) (*Intent, error) {
	obj, err := dataObject(KindIntent, data)
	if err != nil {
		return nil, err
	}
	botID, err := requireString(KindIntent, obj, "botId")
	if err != nil {
		return nil, err
	}
	userID, err := requireString(KindIntent, obj, "userId")
	if err != nil {
		return nil, err
	}
	label, err := requireString(KindIntent, obj, "intent")
	if err != nil {
		return nil, err
	}
	return &Intent{Meta: meta, BotID: botID, UserID: userID, Label: label}, nil
}

func dataObject(kind Kind, data any) (map[string]any, error) {
	obj, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: data is %s, not an object", ErrSchemaMismatch, kind, jsonType(data))
	}
	return obj, nil
}

func requireString(kind Kind, obj map[string]any, field string) (string, error) {
	s, ok := obj[field].(string)
	if !ok || s == "" {
		return "", mismatch(kind, field, obj[field], "a non-empty string")
	}
	return s, nil
}

func requireSeq(kind Kind, obj map[string]any, field string) (int, error) {
	n, ok := obj[field].(json.Number)
	if !ok {
		return 0, mismatch(kind, field, obj[field], "an integer")
	}
	v, err := n.Int64()
	if err != nil || v < 0 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s: data.%s must be an integer >= 0, got %s", ErrSchemaMismatch, kind, field, n)
	}
	return int(v), nil
}

func mismatch(kind Kind, field string, got any, want string) error {
	if got == nil {
		return fmt.Errorf("%w: %s: data.%s is missing", ErrSchemaMismatch, kind, field)
	}
	return fmt.Errorf("%w: %s: data.%s must be %s, got %s", ErrSchemaMismatch, kind, field, want, jsonType(got))
}

func jsonType(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		if x == "" {
			return "empty string"
		}
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
