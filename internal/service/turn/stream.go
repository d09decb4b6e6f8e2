package turn

import (
	"context"

	"github.com/zhouzirui/gemini-assistant/backend/internal/model/chat"
)

// StreamEvent is one step of a streamed turn.
type StreamEvent struct {
	Event          string        `json:"event"`
	ConversationID string        `json:"conversationId,omitempty"`
	Message        *chat.Message `json:"message,omitempty"`
	Notification   *Notification `json:"notification,omitempty"`
	Finished       bool          `json:"finished,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Stream runs the same turn as Send and reports it as start, message and
// end events, or a single error event when the turn is rejected.
func (p *Pipeline) Stream(ctx context.Context, conversationID string, in Input, emit func(StreamEvent)) error {
	res, err := p.run(ctx, conversationID, in, func(user chat.Message) {
		emit(StreamEvent{Event: "start", ConversationID: conversationID, Message: &user})
	})
	if err != nil {
		emit(StreamEvent{Event: "error", ConversationID: conversationID, Error: err.Error()})
		return err
	}

	emit(StreamEvent{
		Event:          "message",
		ConversationID: conversationID,
		Message:        &res.Assistant,
		Notification:   &res.Notification,
	})
	emit(StreamEvent{Event: "end", ConversationID: conversationID, Finished: true})
	return nil
}
