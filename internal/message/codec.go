package message

import "encoding/json"

// JSONCodec serializes Message canonically as JSON. This is the codec
// used in production; the Message/Part structs already flatten the
// tagged union through json tags (part.go), so no custom marshal logic
// is needed here.
type JSONCodec struct{}

func (JSONCodec) Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSONCodec) Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
