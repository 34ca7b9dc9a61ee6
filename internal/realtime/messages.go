package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/livecart/backend/internal/models"
)

// WSMessage is the WebSocket message envelope in both directions.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound message kinds.
const (
	KindJoin           = "join"
	KindLeave          = "leave"
	KindSetActive      = "set_active"
	KindChatMessage    = "chat_message"
	KindSubmitQuestion = "submit_question"
	KindVoteQuestion   = "vote_question"
	KindSubmitAnswer   = "submit_answer"
	KindCreatePoll     = "create_poll"
	KindVotePoll       = "vote_poll"
	KindClosePoll      = "close_poll"
	KindOrderPlaced    = "order_placed"
)

// Outbound events sent only to the originating client.
const (
	EventJoined = "joined"
	EventError  = "error"
)

// ErrUnknownKind is returned for envelopes with an unsupported event name.
var ErrUnknownKind = errors.New("unknown message kind")

// Inbound is one validated client message.
type Inbound interface {
	Kind() string
	validate() error
}

// JoinMsg subscribes the connection to a stream and counts it as a viewer.
type JoinMsg struct {
	StreamID   uuid.UUID `json:"stream"`
	DeviceHint string    `json:"device_hint"`
}

// LeaveMsg unsubscribes the connection from a stream.
type LeaveMsg struct {
	StreamID uuid.UUID `json:"stream"`
}

// SetActiveMsg reports whether the viewer is engaged.
type SetActiveMsg struct {
	StreamID uuid.UUID `json:"stream"`
	Active   *bool     `json:"active"`
}

// ChatMsg is a chat line sent to a stream.
type ChatMsg struct {
	StreamID uuid.UUID `json:"stream"`
	Text     string    `json:"text"`
}

// SubmitQuestionMsg asks the seller a question.
type SubmitQuestionMsg struct {
	StreamID uuid.UUID `json:"stream"`
	Text     string    `json:"text"`
}

// VoteQuestionMsg upvotes a question.
type VoteQuestionMsg struct {
	QuestionID uuid.UUID `json:"question_id"`
}

// SubmitAnswerMsg is the seller's answer to a question.
type SubmitAnswerMsg struct {
	QuestionID uuid.UUID `json:"question_id"`
	Answer     string    `json:"answer"`
}

// CreatePollMsg opens a poll on a stream.
type CreatePollMsg struct {
	StreamID uuid.UUID `json:"stream"`
	Question string    `json:"question"`
	Options  []string  `json:"options"`
}

// VotePollMsg votes for one option of a poll.
type VotePollMsg struct {
	PollID uuid.UUID `json:"poll_id"`
	Option string    `json:"option"`
}

// ClosePollMsg ends voting on a poll.
type ClosePollMsg struct {
	PollID uuid.UUID `json:"poll_id"`
}

// OrderPlacedMsg attributes a purchase to a stream. OrderID is optional; a
// client-supplied id makes redelivery idempotent in the order store.
type OrderPlacedMsg struct {
	OrderID   uuid.UUID       `json:"order_id"`
	StreamID  uuid.UUID       `json:"stream"`
	ProductID uuid.UUID       `json:"product"`
	Amount    decimal.Decimal `json:"amount"`
}

func (JoinMsg) Kind() string           { return KindJoin }
func (LeaveMsg) Kind() string          { return KindLeave }
func (SetActiveMsg) Kind() string      { return KindSetActive }
func (ChatMsg) Kind() string           { return KindChatMessage }
func (SubmitQuestionMsg) Kind() string { return KindSubmitQuestion }
func (VoteQuestionMsg) Kind() string   { return KindVoteQuestion }
func (SubmitAnswerMsg) Kind() string   { return KindSubmitAnswer }
func (CreatePollMsg) Kind() string     { return KindCreatePoll }
func (VotePollMsg) Kind() string       { return KindVotePoll }
func (ClosePollMsg) Kind() string      { return KindClosePoll }
func (OrderPlacedMsg) Kind() string    { return KindOrderPlaced }

func invalid(field string) error {
	return fmt.Errorf("%s: %w", field, models.ErrInvalidInput)
}

func requireID(id uuid.UUID, field string) error {
	if id == uuid.Nil {
		return invalid(field)
	}
	return nil
}

func requireText(s, field string) error {
	if strings.TrimSpace(s) == "" {
		return invalid(field)
	}
	return nil
}

func (m JoinMsg) validate() error  { return requireID(m.StreamID, "stream") }
func (m LeaveMsg) validate() error { return requireID(m.StreamID, "stream") }

func (m SetActiveMsg) validate() error {
	if m.Active == nil {
		return invalid("active")
	}
	return requireID(m.StreamID, "stream")
}

func (m ChatMsg) validate() error {
	if err := requireID(m.StreamID, "stream"); err != nil {
		return err
	}
	return requireText(m.Text, "text")
}

func (m SubmitQuestionMsg) validate() error {
	if err := requireID(m.StreamID, "stream"); err != nil {
		return err
	}
	return requireText(m.Text, "text")
}

func (m VoteQuestionMsg) validate() error { return requireID(m.QuestionID, "question_id") }

func (m SubmitAnswerMsg) validate() error {
	if err := requireID(m.QuestionID, "question_id"); err != nil {
		return err
	}
	return requireText(m.Answer, "answer")
}

func (m CreatePollMsg) validate() error {
	if err := requireID(m.StreamID, "stream"); err != nil {
		return err
	}
	if len(m.Options) < 2 {
		return invalid("options")
	}
	return requireText(m.Question, "question")
}

func (m VotePollMsg) validate() error {
	if err := requireID(m.PollID, "poll_id"); err != nil {
		return err
	}
	return requireText(m.Option, "option")
}

func (m ClosePollMsg) validate() error { return requireID(m.PollID, "poll_id") }

func (m OrderPlacedMsg) validate() error {
	if err := requireID(m.StreamID, "stream"); err != nil {
		return err
	}
	if err := requireID(m.ProductID, "product"); err != nil {
		return err
	}
	if !m.Amount.IsPositive() {
		return invalid("amount")
	}
	return nil
}

// DecodeInbound turns an envelope into its typed message and validates it.
// Nothing that fails here reaches the engine.
func DecodeInbound(msg WSMessage) (Inbound, error) {
	var in Inbound
	switch msg.Event {
	case KindJoin:
		in = &JoinMsg{}
	case KindLeave:
		in = &LeaveMsg{}
	case KindSetActive:
		in = &SetActiveMsg{}
	case KindChatMessage:
		in = &ChatMsg{}
	case KindSubmitQuestion:
		in = &SubmitQuestionMsg{}
	case KindVoteQuestion:
		in = &VoteQuestionMsg{}
	case KindSubmitAnswer:
		in = &SubmitAnswerMsg{}
	case KindCreatePoll:
		in = &CreatePollMsg{}
	case KindVotePoll:
		in = &VotePollMsg{}
	case KindClosePoll:
		in = &ClosePollMsg{}
	case KindOrderPlaced:
		in = &OrderPlacedMsg{}
	default:
		return nil, fmt.Errorf("%q: %w", msg.Event, ErrUnknownKind)
	}
	if len(msg.Data) == 0 {
		return nil, invalid("data")
	}
	if err := json.Unmarshal(msg.Data, in); err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", msg.Event, err, models.ErrInvalidInput)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	return in, nil
}
