package session

import "github.com/eternisai/chatcore/internal/message"

// Reconcile implements §4.4.5's merge algorithm, used both for an
// explicit chat-messages bulk assertion and for the messages array
// carried on every chat-request — unifying the two merge paths the
// source keeps separate, per the §9 Open Question resolution recorded
// in DESIGN.md.
//
// It walks stored and incoming in lockstep, preferring the stored
// version's tool state whenever it is further along the lifecycle, and
// appends anything the client cannot have seen (or could not have sent)
// verbatim from stored history.
func Reconcile(stored, incoming []message.Message) []message.Message {
	result := make([]message.Message, 0, len(stored)+len(incoming))
	si := 0

	for _, inc := range incoming {
		if inc.Role == message.RoleAssistant && !hasToolParts(inc) {
			// Skip rule (§4.4.5 last bullet): don't let a text-only
			// incoming assistant message match past a stored assistant
			// message carrying tool parts; carry those through as-is so
			// a later continuation still reconciles correctly.
			for si < len(stored) && stored[si].Role == message.RoleAssistant && hasToolParts(stored[si]) {
				result = append(result, stored[si])
				si++
			}
		}

		if si < len(stored) && sameLogicalMessage(stored[si], inc) {
			result = append(result, mergeMessage(stored[si], inc))
			si++
			continue
		}

		result = append(result, resolveAgainstStored(inc, stored))
	}

	// Remaining stored messages the incoming list never referenced are
	// appended verbatim (§4.4.5: "appended verbatim from stored history").
	for ; si < len(stored); si++ {
		result = append(result, stored[si])
	}

	return result
}

func hasToolParts(m message.Message) bool {
	for _, p := range m.Parts {
		if _, ok := message.IsToolType(p.Type); ok {
			return true
		}
	}
	return false
}

func sharedToolCallID(a, b message.Message) bool {
	for _, pa := range a.Parts {
		if _, ok := message.IsToolType(pa.Type); !ok {
			continue
		}
		for _, pb := range b.Parts {
			if _, ok := message.IsToolType(pb.Type); ok && pa.ToolCallID == pb.ToolCallID {
				return true
			}
		}
	}
	return false
}

func textOf(m message.Message) (string, bool) {
	var text string
	hasText := false
	for _, p := range m.Parts {
		if p.Type == message.PartText {
			text += p.Text
			hasText = true
		}
	}
	return text, hasText
}

// sameLogicalMessage decides whether stored and inc occupy the same
// logical slot in history (§4.4.5: user messages and identical
// assistant text messages match positionally; assistant messages
// carrying tool parts match by shared toolCallId across id boundaries).
func sameLogicalMessage(stored, inc message.Message) bool {
	if stored.Role != inc.Role {
		return false
	}
	switch stored.Role {
	case message.RoleUser, message.RoleSystem:
		return true
	case message.RoleAssistant:
		if hasToolParts(stored) || hasToolParts(inc) {
			return sharedToolCallID(stored, inc)
		}
		st, sok := textOf(stored)
		it, iok := textOf(inc)
		return sok == iok && st == it
	default:
		return stored.ID == inc.ID
	}
}

// mergeMessage merges inc into stored, keeping the stored id (§4.4.5:
// "keep the stored id... the client may have locally generated a
// different one") and, part by part, preferring whichever side's tool
// state is further along the lifecycle.
func mergeMessage(stored, inc message.Message) message.Message {
	merged := stored.Clone()
	if !hasToolParts(stored) && !hasToolParts(inc) {
		return merged
	}
	for i := range merged.Parts {
		p := &merged.Parts[i]
		if _, ok := message.IsToolType(p.Type); !ok {
			continue
		}
		for _, ip := range inc.Parts {
			if ip.ToolCallID != p.ToolCallID {
				continue
			}
			// The client's stale view must never overwrite the
			// server's completed tool output (§4.4.5): only adopt the
			// incoming part if it is strictly further along.
			if !message.IsTerminal(p.State) && message.RankLess(p.State, ip.State) && ip.State != p.State {
				merged.Parts[i] = ip.Clone()
			}
		}
	}
	return merged
}

// resolveAgainstStored handles an incoming message with no positional
// stored counterpart left to match (a brand-new client message, or a
// tool-call continuation whose message id the client changed). Its tool
// parts are still reconciled against the toolCallId merge key globally
// (§3: toolCallId is "treated as globally unique and is the merge key
// for tool updates") so a stale client view can never regress a tool
// part the server already completed elsewhere in history.
func resolveAgainstStored(inc message.Message, stored []message.Message) message.Message {
	if !hasToolParts(inc) {
		return inc
	}
	out := inc.Clone()
	for i := range out.Parts {
		p := &out.Parts[i]
		if _, ok := message.IsToolType(p.Type); !ok {
			continue
		}
		for _, sm := range stored {
			for _, sp := range sm.Parts {
				if sp.ToolCallID == p.ToolCallID && message.IsTerminal(sp.State) {
					*p = sp.Clone()
				}
			}
		}
	}
	return out
}
