// Package chunkbuilder implements the pure, deterministic mapping from a
// stream chunk onto a message's parts array (spec §4.1). It is shared
// conceptually by the server (to assemble the canonical message) and by
// any client-side renderer applying the same chunks incrementally.
package chunkbuilder

import "github.com/eternisai/chatcore/internal/message"

// Kind is a stream chunk's discriminator.
type Kind string

const (
	KindTextStart    Kind = "text-start"
	KindTextDelta    Kind = "text-delta"
	KindTextEnd      Kind = "text-end"
	KindReasonStart  Kind = "reasoning-start"
	KindReasonDelta  Kind = "reasoning-delta"
	KindReasonEnd    Kind = "reasoning-end"
	KindFile         Kind = "file"
	KindSourceURL    Kind = "source-url"
	KindSourceDoc    Kind = "source-document"
	KindToolInStart  Kind = "tool-input-start"
	KindToolInDelta  Kind = "tool-input-delta"
	KindToolInAvail  Kind = "tool-input-available"
	KindToolInError  Kind = "tool-input-error"
	KindToolApprReq  Kind = "tool-approval-request"
	KindToolOutDeny  Kind = "tool-output-denied"
	KindToolOutAvail Kind = "tool-output-available"
	KindToolOutError Kind = "tool-output-error"
	KindStepStart    Kind = "step-start"
	KindStartStepAlt Kind = "start-step" // alias of step-start

	// Metadata-only kinds: never handled by Apply; callers may inspect
	// them to update message-level metadata without touching parts.
	KindStart           Kind = "start"
	KindFinish          Kind = "finish"
	KindMessageMetadata Kind = "message-metadata"
)

// Chunk is one typed fragment of a stream (see GLOSSARY). Fields beyond
// Kind are populated according to Kind; unused fields are left zero.
type Chunk struct {
	Kind Kind `json:"type"`

	// text-delta / reasoning-delta
	Delta string `json:"delta,omitempty"`

	// file / source-url / source-document
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url,omitempty"`
	SourceID  string `json:"sourceId,omitempty"`
	Title     string `json:"title,omitempty"`
	Filename  string `json:"filename,omitempty"`

	ProviderMetadata map[string]map[string]any `json:"providerMetadata,omitempty"`

	// tool-*
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Input      any    `json:"input,omitempty"`
	Output     any    `json:"output,omitempty"`
	ErrorText  string `json:"errorText,omitempty"`
	ApprovalID string `json:"approvalId,omitempty"`

	Preliminary *bool `json:"preliminary,omitempty"`

	// data-<kind>
	DataID    string `json:"id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Transient bool   `json:"transient,omitempty"`

	// metadata-only chunks
	MessageID string         `json:"messageId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Apply maps chunk onto parts, mutating parts in place. It returns
// whether the chunk kind was recognized and handled; unrecognized kinds
// (including the metadata-only kinds) return false so callers can
// special-case them (§4.1, last bullet).
func Apply(parts *[]message.Part, chunk Chunk) bool {
	switch {
	case chunk.Kind == KindTextStart || chunk.Kind == KindReasonStart:
		pt := message.PartText
		if chunk.Kind == KindReasonStart {
			pt = message.PartReasoning
		}
		*parts = append(*parts, message.Part{Type: pt, State: message.StateStreaming})
		return true

	case chunk.Kind == KindTextDelta || chunk.Kind == KindReasonDelta:
		pt := message.PartText
		if chunk.Kind == KindReasonDelta {
			pt = message.PartReasoning
		}
		if idx := lastOfType(*parts, pt); idx >= 0 {
			(*parts)[idx].Text += chunk.Delta
		} else {
			// Stream resumed past the start: create a fallback part.
			*parts = append(*parts, message.Part{Type: pt, Text: chunk.Delta, State: message.StateStreaming})
		}
		return true

	case chunk.Kind == KindTextEnd || chunk.Kind == KindReasonEnd:
		pt := message.PartText
		if chunk.Kind == KindReasonEnd {
			pt = message.PartReasoning
		}
		if idx := lastOfType(*parts, pt); idx >= 0 {
			(*parts)[idx].State = message.StateDone
		}
		return true

	case chunk.Kind == KindFile:
		*parts = append(*parts, message.Part{
			Type:             message.PartFile,
			MediaType:        chunk.MediaType,
			URL:              chunk.URL,
			ProviderMetadata: chunk.ProviderMetadata,
		})
		return true

	case chunk.Kind == KindSourceURL || chunk.Kind == KindSourceDoc:
		pt := message.PartSourceURL
		if chunk.Kind == KindSourceDoc {
			pt = message.PartSourceDocument
		}
		*parts = append(*parts, message.Part{
			Type:             pt,
			SourceID:         chunk.SourceID,
			URL:              chunk.URL,
			Title:            chunk.Title,
			Filename:         chunk.Filename,
			MediaType:        chunk.MediaType,
			ProviderMetadata: chunk.ProviderMetadata,
		})
		return true

	case chunk.Kind == KindToolInStart:
		*parts = append(*parts, message.Part{
			Type:       message.ToolType(chunk.ToolName),
			ToolCallID: chunk.ToolCallID,
			ToolName:   chunk.ToolName,
			State:      message.StateInputStreaming,
		})
		return true

	case chunk.Kind == KindToolInDelta:
		if idx := findTool(*parts, chunk.ToolCallID); idx >= 0 {
			(*parts)[idx].Input = chunk.Input
		}
		return true

	case chunk.Kind == KindToolInAvail:
		idx := findTool(*parts, chunk.ToolCallID)
		if idx < 0 {
			*parts = append(*parts, message.Part{
				Type:       message.ToolType(chunk.ToolName),
				ToolCallID: chunk.ToolCallID,
				ToolName:   chunk.ToolName,
			})
			idx = len(*parts) - 1
		}
		(*parts)[idx].State = message.StateInputAvailable
		(*parts)[idx].Input = chunk.Input
		return true

	case chunk.Kind == KindToolInError:
		idx := findTool(*parts, chunk.ToolCallID)
		if idx < 0 {
			*parts = append(*parts, message.Part{
				Type:       message.ToolType(chunk.ToolName),
				ToolCallID: chunk.ToolCallID,
				ToolName:   chunk.ToolName,
			})
			idx = len(*parts) - 1
		}
		(*parts)[idx].State = message.StateOutputError
		(*parts)[idx].ErrorText = chunk.ErrorText
		(*parts)[idx].Input = chunk.Input
		return true

	case chunk.Kind == KindToolApprReq:
		if idx := findTool(*parts, chunk.ToolCallID); idx >= 0 {
			(*parts)[idx].State = message.StateApprovalRequested
			(*parts)[idx].Approval = &message.Approval{ID: chunk.ApprovalID}
		}
		return true

	case chunk.Kind == KindToolOutDeny:
		if idx := findTool(*parts, chunk.ToolCallID); idx >= 0 {
			(*parts)[idx].State = message.StateOutputDenied
		}
		return true

	case chunk.Kind == KindToolOutAvail:
		if idx := findTool(*parts, chunk.ToolCallID); idx >= 0 {
			p := &(*parts)[idx]
			p.State = message.StateOutputAvailable
			p.Output = chunk.Output
			if chunk.Preliminary != nil {
				p.Preliminary = chunk.Preliminary
			}
		}
		return true

	case chunk.Kind == KindToolOutError:
		if idx := findTool(*parts, chunk.ToolCallID); idx >= 0 {
			p := &(*parts)[idx]
			p.State = message.StateOutputError
			p.ErrorText = chunk.ErrorText
		}
		return true

	case chunk.Kind == KindStepStart || chunk.Kind == KindStartStepAlt:
		*parts = append(*parts, message.Part{Type: message.PartStepStart})
		return true

	default:
		if kind, ok := message.IsDataType(message.PartType(chunk.Kind)); ok {
			return applyData(parts, kind, chunk)
		}
		return false
	}
}

func applyData(parts *[]message.Part, kind string, chunk Chunk) bool {
	if chunk.Transient {
		// Handled (broadcast-only), never appended to the store.
		return true
	}
	pt := message.DataType(kind)
	if chunk.DataID != "" {
		for i := len(*parts) - 1; i >= 0; i-- {
			p := &(*parts)[i]
			if p.Type == pt && p.ID == chunk.DataID {
				p.Data = chunk.Data
				return true
			}
		}
	}
	*parts = append(*parts, message.Part{
		Type: pt,
		ID:   chunk.DataID,
		Data: chunk.Data,
	})
	return true
}

func lastOfType(parts []message.Part, t message.PartType) int {
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Type == t {
			return i
		}
	}
	return -1
}

func findTool(parts []message.Part, toolCallID string) int {
	for i := len(parts) - 1; i >= 0; i-- {
		if _, ok := message.IsToolType(parts[i].Type); ok && parts[i].ToolCallID == toolCallID {
			return i
		}
	}
	return -1
}
