package message

// redactedContentField is the one known opaque provider field whose
// presence keeps an otherwise-empty reasoning part alive (§4.4.7: "a
// reasoning part with an otherwise-empty text but a known opaque
// redacted-content field is preserved").
const redactedContentField = "redactedContent"

// Sanitize strips ephemeral provider metadata and drops empty reasoning
// parts before a message is persisted (§4.4.7). It mutates msg.Parts in
// place and returns nothing.
func Sanitize(msg *Message) {
	kept := msg.Parts[:0]
	for _, p := range msg.Parts {
		sanitizeProviderMetadata(&p)
		if p.Type == PartReasoning && p.Text == "" && !hasRedactedContent(p) {
			continue
		}
		kept = append(kept, p)
	}
	msg.Parts = kept
}

func hasRedactedContent(p Part) bool {
	for _, fields := range p.ProviderMetadata {
		if _, ok := fields[redactedContentField]; ok {
			return true
		}
	}
	return false
}

// ephemeralKeys lists the per-namespace field names treated as
// ecosystem-specific ephemeral identifiers (invariant 5, §8): they must
// never survive into a persisted message.
var ephemeralKeys = map[string]bool{
	"cacheControlTtl": true,
	"requestId":       true,
	"traceId":         true,
	"itemId":          true,
	"responseId":      true,
}

func sanitizeProviderMetadata(p *Part) {
	if p.ProviderMetadata == nil {
		return
	}
	for ns, fields := range p.ProviderMetadata {
		for k := range fields {
			if ephemeralKeys[k] {
				delete(fields, k)
			}
		}
		if len(fields) == 0 {
			delete(p.ProviderMetadata, ns)
		}
	}
	if len(p.ProviderMetadata) == 0 {
		p.ProviderMetadata = nil
	}
}
