// Package wire defines the JSON frame taxonomy exchanged over the
// multiplexed connection (spec §4.3/§6). Transport multiplexing itself
// (framing requests by correlation id over one physical connection) is
// an out-of-scope collaborator (§1); this package only defines the
// frame payloads carried over it.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/eternisai/chatcore/internal/chunkbuilder"
	"github.com/eternisai/chatcore/internal/message"
)

// Type is a frame's discriminator field.
type Type string

const (
	// Client -> server
	TypeChatRequest  Type = "chat-request"
	TypeChatCancel   Type = "chat-cancel"
	TypeToolResult   Type = "tool-result"
	TypeToolApproval Type = "tool-approval"
	TypeChatClear    Type = "chat-clear"
	TypeChatMessages Type = "chat-messages"
	TypeResumeReq    Type = "resume-request"
	TypeResumeAck    Type = "resume-ack"

	// Server -> client
	TypeChatResponse   Type = "chat-response"
	TypeStreamResuming Type = "stream-resuming"
	TypeMessageUpdated Type = "message-updated"
	TypeToolCatalog    Type = "tool-catalog"
)

// RequestBody is the payload carried inside a chat-request frame's
// init.body field (§6): "{ messages: Message[], ...custom }". Extra is
// opaque and passed to the model driver untouched.
type RequestBody struct {
	Messages []message.Message `json:"messages"`
	Extra    map[string]any    `json:"-"`
}

// MarshalJSON flattens Extra alongside Messages so additional fields
// remain opaque custom data rather than a nested object (§6: "...custom").
func (b RequestBody) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(b.Extra)+1)
	for k, v := range b.Extra {
		out[k] = v
	}
	out["messages"] = b.Messages
	return json.Marshal(out)
}

func (b *RequestBody) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if m, ok := raw["messages"]; ok {
		if err := json.Unmarshal(m, &b.Messages); err != nil {
			return fmt.Errorf("decode messages: %w", err)
		}
		delete(raw, "messages")
	}
	if len(raw) > 0 {
		b.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			b.Extra[k] = val
		}
	}
	return nil
}

// ChatRequestInit is the "init" envelope of a chat-request frame.
type ChatRequestInit struct {
	Body RequestBody `json:"body"`
}

// Inbound is the union of client->server frames, decoded by Type.
type Inbound struct {
	Type Type `json:"type"`

	// chat-request / chat-cancel / resume-request / resume-ack
	ID string `json:"id,omitempty"`

	// chat-request
	Init *ChatRequestInit `json:"init,omitempty"`

	// tool-result
	ToolCallID   string `json:"toolCallId,omitempty"`
	ToolName     string `json:"toolName,omitempty"`
	Output       any    `json:"output,omitempty"`
	State        string `json:"state,omitempty"`
	ErrorText    string `json:"errorText,omitempty"`
	AutoContinue bool   `json:"autoContinue,omitempty"`

	// tool-approval
	Approved bool `json:"approved,omitempty"`

	// chat-messages
	Messages []message.Message `json:"messages,omitempty"`
}

// Outbound is the union of server->client frames.
type Outbound struct {
	Type Type `json:"type"`

	// chat-response / stream-resuming
	ID string `json:"id,omitempty"`

	// chat-response
	Body           string              `json:"body"`
	Done           bool                `json:"done"`
	Error          bool                `json:"error,omitempty"`
	Replay         bool                `json:"replay,omitempty"`
	ReplayComplete bool                `json:"replayComplete,omitempty"`
	Continuation   bool                `json:"continuation,omitempty"`

	// chat-messages (broadcast) / message-updated
	Messages []message.Message `json:"messages,omitempty"`
	Message  *message.Message  `json:"message,omitempty"`

	// tool-catalog
	Tools []mcp.Tool `json:"tools,omitempty"`
}

// NewToolCatalog builds the once-per-connection tool-catalog frame sent
// right after a connection attaches (§1: advertised, never invoked).
func NewToolCatalog(tools []mcp.Tool) Outbound {
	return Outbound{Type: TypeToolCatalog, Tools: tools}
}

// NewChatResponse builds a live (non-replay) chat-response frame whose
// body is the JSON-encoded chunk.
func NewChatResponse(requestID string, chunk chunkbuilder.Chunk, done bool) (Outbound, error) {
	body, err := json.Marshal(chunk)
	if err != nil {
		return Outbound{}, fmt.Errorf("encode chunk: %w", err)
	}
	return Outbound{
		Type: TypeChatResponse,
		ID:   requestID,
		Body: string(body),
		Done: done,
	}, nil
}

// NewReplayResponse builds a replayed chat-response frame (replay=true).
func NewReplayResponse(requestID string, body []byte, done bool) Outbound {
	return Outbound{
		Type:   TypeChatResponse,
		ID:     requestID,
		Body:   string(body),
		Done:   done,
		Replay: true,
	}
}

// NewReplayCompleteSentinel is the non-terminal marker sent after
// replaying a live stream's buffered chunks (§4.3: "replayComplete =
// true, done = false, body = ''").
func NewReplayCompleteSentinel(requestID string) Outbound {
	return Outbound{
		Type:           TypeChatResponse,
		ID:             requestID,
		Body:           "",
		Done:           false,
		Replay:         true,
		ReplayComplete: true,
	}
}

// NewErrorResponse builds a terminal error frame (§4.4.1 step 7, §7).
func NewErrorResponse(requestID, errMessage string) Outbound {
	return Outbound{
		Type:  TypeChatResponse,
		ID:    requestID,
		Body:  errMessage,
		Done:  true,
		Error: true,
	}
}
