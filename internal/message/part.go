// Package message defines the Message and Part data model (tagged union
// of streamed content) and the Message Store that persists the
// canonical, sanitized history of a conversation.
package message

import (
	"fmt"
	"strings"
)

// PartType is the tag of a Part's tagged union. Tool parts carry a
// dynamic tag of the form "tool-<name>"; data parts carry "data-<kind>".
type PartType string

const (
	PartText           PartType = "text"
	PartReasoning      PartType = "reasoning"
	PartFile           PartType = "file"
	PartSourceURL      PartType = "source-url"
	PartSourceDocument PartType = "source-document"
	PartStepStart      PartType = "step-start"
)

// IsToolType reports whether t is a "tool-<name>" tag and returns name.
func IsToolType(t PartType) (name string, ok bool) {
	s := string(t)
	if strings.HasPrefix(s, "tool-") {
		return strings.TrimPrefix(s, "tool-"), true
	}
	return "", false
}

// IsDataType reports whether t is a "data-<kind>" tag and returns kind.
func IsDataType(t PartType) (kind string, ok bool) {
	s := string(t)
	if strings.HasPrefix(s, "data-") {
		return strings.TrimPrefix(s, "data-"), true
	}
	return "", false
}

func ToolType(name string) PartType { return PartType("tool-" + name) }
func DataType(kind string) PartType { return PartType("data-" + kind) }

// State is a tool part's position in the streaming lattice:
//
//	input-streaming < input-available < (approval-requested < approval-responded)? < {output-available|output-error|output-denied}
//
// Text and reasoning parts use only "streaming" and "done".
type State string

const (
	StateStreaming         State = "streaming"
	StateDone              State = "done"
	StateInputStreaming    State = "input-streaming"
	StateInputAvailable    State = "input-available"
	StateApprovalRequested State = "approval-requested"
	StateApprovalResponded State = "approval-responded"
	StateOutputAvailable   State = "output-available"
	StateOutputError       State = "output-error"
	StateOutputDenied      State = "output-denied"
)

// toolRank orders tool states along the lattice for monotonicity checks.
// approval-requested/responded sit strictly between input-available and
// the output-* terminals, but are themselves incomparable to each other
// only in the sense that denial is a distinct branch; for our purposes we
// give approval-responded a higher rank than approval-requested and both
// a lower rank than any terminal state.
var toolRank = map[State]int{
	StateInputStreaming:    0,
	StateInputAvailable:    1,
	StateApprovalRequested: 2,
	StateApprovalResponded: 3,
	StateOutputAvailable:   4,
	StateOutputError:       4,
	StateOutputDenied:      4,
}

// IsTerminal reports whether s is a state that must never be downgraded.
func IsTerminal(s State) bool {
	switch s {
	case StateDone, StateOutputAvailable, StateOutputError, StateOutputDenied:
		return true
	default:
		return false
	}
}

// RankLess reports whether moving a tool part from 'from' to 'to' would be
// a forward (or equal) move along the lattice. It does not by itself
// forbid lateral approval-requested<->approval-responded corrections; call
// IsTerminal on 'from' first to reject any transition out of a terminal.
func RankLess(from, to State) bool {
	fr, ok1 := toolRank[from]
	tr, ok2 := toolRank[to]
	if !ok1 || !ok2 {
		return true
	}
	return tr >= fr
}

// Approval records the approval gesture attached to a tool part. Id
// persists once attached through subsequent state transitions (§3).
type Approval struct {
	ID       string `json:"id,omitempty"`
	Approved *bool  `json:"approved,omitempty"`
}

// Part is one element of a Message's ordered parts sequence. Only the
// fields relevant to its Type are populated; the struct is a practical
// flattening of the tagged union so it round-trips through one JSON
// shape, matching the wire format described in spec §4.3/§6.
type Part struct {
	Type PartType `json:"type"`

	// text / reasoning
	Text  string `json:"text,omitempty"`
	State State  `json:"state,omitempty"`

	// reasoning
	ProviderMetadata map[string]map[string]any `json:"providerMetadata,omitempty"`

	// file
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url,omitempty"`

	// source-url / source-document
	SourceID string `json:"sourceId,omitempty"`
	Title    string `json:"title,omitempty"`
	Filename string `json:"filename,omitempty"`

	// tool-<name>
	ToolCallID  string    `json:"toolCallId,omitempty"`
	ToolName    string    `json:"toolName,omitempty"`
	Input       any       `json:"input,omitempty"`
	Output      any       `json:"output,omitempty"`
	ErrorText   string    `json:"errorText,omitempty"`
	Approval    *Approval `json:"approval,omitempty"`
	Preliminary *bool     `json:"preliminary,omitempty"`

	// data-<kind>
	ID        string `json:"id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Transient bool   `json:"transient,omitempty"`
}

// Clone returns a deep-enough copy for safe mutation independent of the
// original (provider metadata map and approval pointer are copied).
func (p Part) Clone() Part {
	cp := p
	if p.ProviderMetadata != nil {
		cp.ProviderMetadata = make(map[string]map[string]any, len(p.ProviderMetadata))
		for ns, fields := range p.ProviderMetadata {
			f := make(map[string]any, len(fields))
			for k, v := range fields {
				f[k] = v
			}
			cp.ProviderMetadata[ns] = f
		}
	}
	if p.Approval != nil {
		a := *p.Approval
		cp.Approval = &a
	}
	return cp
}

// Role is a Message's author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry in the canonical ordered history (§3). It is
// immutable once terminal (its owning stream has completed) except
// through the explicit merge operations in the Session Controller.
type Message struct {
	ID       string         `json:"id"`
	Role     Role           `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FindToolPart returns the index of the part with the given toolCallId,
// searching from the end since tool/data parts are usually most recent
// (§4.1). Returns -1 if not found.
func (m *Message) FindToolPart(toolCallID string) int {
	for i := len(m.Parts) - 1; i >= 0; i-- {
		if _, ok := IsToolType(m.Parts[i].Type); ok && m.Parts[i].ToolCallID == toolCallID {
			return i
		}
	}
	return -1
}

// HasToolCallID reports whether any tool part of m uses id.
func (m *Message) HasToolCallID(id string) bool {
	return m.FindToolPart(id) >= 0
}

// Clone deep-copies a message's parts slice.
func (m Message) Clone() Message {
	cp := m
	cp.Parts = make([]Part, len(m.Parts))
	for i, p := range m.Parts {
		cp.Parts[i] = p.Clone()
	}
	if m.Metadata != nil {
		cp.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// ValidateToolCallUniqueness enforces invariant 1 in spec §8: within one
// message, toolCallId must be unique.
func (m *Message) ValidateToolCallUniqueness() error {
	seen := make(map[string]bool, len(m.Parts))
	for _, p := range m.Parts {
		if _, ok := IsToolType(p.Type); !ok {
			continue
		}
		if seen[p.ToolCallID] {
			return fmt.Errorf("message %s: duplicate toolCallId %q", m.ID, p.ToolCallID)
		}
		seen[p.ToolCallID] = true
	}
	return nil
}
