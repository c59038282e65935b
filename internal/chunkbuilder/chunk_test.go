package chunkbuilder

import (
	"testing"

	"github.com/eternisai/chatcore/internal/message"
)

func TestApplyTextLifecycle(t *testing.T) {
	var parts []message.Part

	if !Apply(&parts, Chunk{Kind: KindTextStart}) {
		t.Fatal("expected text-start to be handled")
	}
	if len(parts) != 1 || parts[0].State != message.StateStreaming {
		t.Fatalf("unexpected parts after text-start: %+v", parts)
	}

	Apply(&parts, Chunk{Kind: KindTextDelta, Delta: "Hel"})
	Apply(&parts, Chunk{Kind: KindTextDelta, Delta: "lo"})
	if parts[0].Text != "Hello" {
		t.Fatalf("expected accumulated text 'Hello', got %q", parts[0].Text)
	}

	Apply(&parts, Chunk{Kind: KindTextEnd})
	if parts[0].State != message.StateDone {
		t.Fatalf("expected done state, got %q", parts[0].State)
	}
}

func TestApplyTextDeltaWithoutStartFallsBack(t *testing.T) {
	var parts []message.Part
	Apply(&parts, Chunk{Kind: KindTextDelta, Delta: "resumed"})
	if len(parts) != 1 || parts[0].Text != "resumed" || parts[0].State != message.StateStreaming {
		t.Fatalf("expected fallback streaming part, got %+v", parts)
	}
}

func TestApplyToolLifecycle(t *testing.T) {
	var parts []message.Part

	Apply(&parts, Chunk{Kind: KindToolInStart, ToolCallID: "c1", ToolName: "search"})
	if parts[0].State != message.StateInputStreaming {
		t.Fatalf("expected input-streaming, got %q", parts[0].State)
	}

	Apply(&parts, Chunk{Kind: KindToolInDelta, ToolCallID: "c1", Input: map[string]any{"q": "go"}})
	Apply(&parts, Chunk{Kind: KindToolInAvail, ToolCallID: "c1", Input: map[string]any{"q": "golang"}})
	if parts[0].State != message.StateInputAvailable {
		t.Fatalf("expected input-available, got %q", parts[0].State)
	}

	Apply(&parts, Chunk{Kind: KindToolApprReq, ToolCallID: "c1", ApprovalID: "a1"})
	if parts[0].State != message.StateApprovalRequested || parts[0].Approval == nil || parts[0].Approval.ID != "a1" {
		t.Fatalf("unexpected approval state: %+v", parts[0])
	}

	approved := true
	Apply(&parts, Chunk{Kind: KindToolOutAvail, ToolCallID: "c1", Output: "42", Preliminary: &approved})
	if parts[0].State != message.StateOutputAvailable || parts[0].Output != "42" {
		t.Fatalf("unexpected output state: %+v", parts[0])
	}
	if len(parts) != 1 {
		t.Fatalf("expected a single tool part across the whole lifecycle, got %d", len(parts))
	}
}

func TestApplyToolInputAvailableWithoutStartCreatesPart(t *testing.T) {
	var parts []message.Part
	Apply(&parts, Chunk{Kind: KindToolInAvail, ToolCallID: "c2", ToolName: "lookup", Input: "x"})
	if len(parts) != 1 || parts[0].ToolCallID != "c2" || parts[0].State != message.StateInputAvailable {
		t.Fatalf("expected synthesized tool part, got %+v", parts)
	}
}

func TestApplyDataTransientNeverAppended(t *testing.T) {
	var parts []message.Part
	handled := Apply(&parts, Chunk{Kind: Kind("data-progress"), Transient: true, Data: 0.5})
	if !handled {
		t.Fatal("expected transient data chunk to be handled")
	}
	if len(parts) != 0 {
		t.Fatalf("expected transient data to never be appended, got %+v", parts)
	}
}

func TestApplyDataReconciledInPlaceByTypeAndID(t *testing.T) {
	var parts []message.Part
	Apply(&parts, Chunk{Kind: Kind("data-progress"), DataID: "p1", Data: 0.1})
	Apply(&parts, Chunk{Kind: Kind("data-progress"), DataID: "p1", Data: 0.9})
	if len(parts) != 1 {
		t.Fatalf("expected in-place reconciliation, got %d parts", len(parts))
	}
	if parts[0].Data != 0.9 {
		t.Fatalf("expected updated data 0.9, got %v", parts[0].Data)
	}
}

func TestApplyDataWithoutIDAlwaysAppends(t *testing.T) {
	var parts []message.Part
	Apply(&parts, Chunk{Kind: Kind("data-log"), Data: "a"})
	Apply(&parts, Chunk{Kind: Kind("data-log"), Data: "b"})
	if len(parts) != 2 {
		t.Fatalf("expected two appended parts, got %d", len(parts))
	}
}

func TestApplyUnrecognizedKindNotHandled(t *testing.T) {
	var parts []message.Part
	if Apply(&parts, Chunk{Kind: KindMessageMetadata, Metadata: map[string]any{"x": 1}}) {
		t.Fatal("expected message-metadata to be unhandled by Apply")
	}
	if len(parts) != 0 {
		t.Fatalf("expected no parts mutated, got %+v", parts)
	}
}

func TestApplyDoesNotCrossMessages(t *testing.T) {
	// Regression guard: Apply only ever receives one message's parts
	// slice; there is no global index it could use to reach another
	// message, which this test documents by construction.
	var a, b []message.Part
	Apply(&a, Chunk{Kind: KindToolInStart, ToolCallID: "shared", ToolName: "x"})
	Apply(&b, Chunk{Kind: KindToolInAvail, ToolCallID: "shared", Input: "y"})
	if len(a) != 1 || a[0].State != message.StateInputStreaming {
		t.Fatalf("message a mutated unexpectedly: %+v", a)
	}
	if len(b) != 1 || b[0].State != message.StateInputAvailable {
		t.Fatalf("message b did not get its own part: %+v", b)
	}
}
