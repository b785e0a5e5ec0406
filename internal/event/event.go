// Package event defines the wire envelope exchanged with the bot server and the
// validated, tagged representation handed to the router.
package event

import (
	"encoding/json"
	"time"

	"github.com/user/botstream/internal/types"
)

// Kind is the envelope discriminant.
type Kind string

const (
	KindChunk       Kind = "bot-message-chunk"
	KindStop        Kind = "bot-message-stop"
	KindIntent      Kind = "user-intent"
	KindUserMessage Kind = "user-message"
)

// Envelope is the generic wire unit in both directions.
type Envelope struct {
	Kind          Kind            `json:"event"`
	ID            string          `json:"id"`
	InteractionID string          `json:"interactionId"`
	Timestamp     int64           `json:"timestamp"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// Meta is the envelope metadata retained after validation.
type Meta struct {
	ID            types.EventID
	InteractionID string
	Timestamp     time.Time
}

// Event is a validated inbound event. The concrete type is one of *Chunk, *Stop,
// *Intent or *Unknown.
type Event interface {
	Kind() Kind
	Metadata() Meta
}

// Chunk is one fragment of a streamed bot message.
type Chunk struct {
	Meta
	BotID     string
	MessageID types.MessageID
	Seq       int
	Text      string
}

// Stop marks the end of a bot message.
type Stop struct {
	Meta
}

// Intent carries a classified user intent label.
type Intent struct {
	Meta
	BotID  string
	UserID string
	Label  string
}

// Unknown is an envelope whose discriminant this client does not recognise.
// It is not an error.
type Unknown struct {
	Meta
	Name string
}

func (c *Chunk) Kind() Kind   { return KindChunk }
func (s *Stop) Kind() Kind    { return KindStop }
func (i *Intent) Kind() Kind  { return KindIntent }
func (u *Unknown) Kind() Kind { return Kind(u.Name) }
func (m Meta) Metadata() Meta { return m }

// UserMessageData is the payload of an outbound user-message envelope.
type UserMessageData struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

// UserMessage is the outbound request envelope for one user message.
type UserMessage struct {
	ID            types.EventID   `json:"id"`
	Kind          Kind            `json:"event"`
	InteractionID types.SessionID `json:"interactionId"`
	Timestamp     int64           `json:"timestamp"`
	Data          UserMessageData `json:"data"`
}

// NewUserMessage builds a user-message envelope correlated to the session.
// The session id doubles as interaction id and user id.
func NewUserMessage(sessionID types.SessionID, text string, at time.Time) *UserMessage {
	return &UserMessage{
		ID:            types.NewEventID(),
		Kind:          KindUserMessage,
		InteractionID: sessionID,
		Timestamp:     at.UnixMilli(),
		Data: UserMessageData{
			UserID: string(sessionID),
			Text:   text,
		},
	}
}
