package scan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PayloadKind classifies what a scanned QR code contained.
type PayloadKind string

const (
	KindSessionMarker PayloadKind = "session_marker"
	KindStudentMarker PayloadKind = "student_marker"
	KindURL           PayloadKind = "url"
	KindJSON          PayloadKind = "json"
	KindText          PayloadKind = "text"
	KindInvalid       PayloadKind = "invalid"
)

// DefaultMarkerPrefix is the namespace segment expected at the front of
// session and student marker codes.
const DefaultMarkerPrefix = "marker"

// Payload is the classified form of one scanned QR code. Exactly the fields
// matching Kind are populated; everything else is zero.
type Payload struct {
	Kind      PayloadKind `json:"kind"`
	SessionID string      `json:"session_id,omitempty"`
	EventID   string      `json:"event_id,omitempty"`
	StudentID string      `json:"student_id,omitempty"`
	URL       string      `json:"url,omitempty"`
	Value     any         `json:"value,omitempty"`
	Text      string      `json:"text,omitempty"`
	Extra     string      `json:"extra,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// Valid reports whether the payload carries something usable.
func (p Payload) Valid() bool { return p.Kind != KindInvalid }

// Parser turns raw scanned text into a Payload. Scanner input is untrusted,
// so Parse never returns an error: anything unrecognizable comes back as
// KindInvalid or KindText and the caller treats that as one more
// classification.
type Parser struct {
	Prefix string
}

// NewParser returns a parser using DefaultMarkerPrefix.
func NewParser() *Parser {
	return &Parser{Prefix: DefaultMarkerPrefix}
}

// Parse classifies raw QR text. Marker codes are colon delimited:
//
//	<prefix>:session:<sessionID>:<eventID>[:extra]
//	<prefix>:student:<studentID>[:extra]
//
// Non-marker input falls back, in order, to URL, JSON, then plain text.
func (p *Parser) Parse(raw string) Payload {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Payload{Kind: KindInvalid, Reason: "empty scan"}
	}

	prefix := p.Prefix
	if prefix == "" {
		prefix = DefaultMarkerPrefix
	}
	if strings.HasPrefix(text, prefix+":") {
		return parseMarker(text)
	}

	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		return Payload{Kind: KindURL, URL: text}
	}

	var value any
	if err := json.Unmarshal([]byte(text), &value); err == nil {
		return Payload{Kind: KindJSON, Value: value}
	}

	return Payload{Kind: KindText, Text: text}
}

func parseMarker(text string) Payload {
	parts := strings.Split(text, ":")
	if len(parts) < 2 {
		return Payload{Kind: KindInvalid, Reason: "marker missing type segment"}
	}

	switch parts[1] {
	case "session":
		if len(parts) < 4 || parts[2] == "" || parts[3] == "" {
			return Payload{Kind: KindInvalid, Reason: "session marker requires session and event ids"}
		}
		return Payload{
			Kind:      KindSessionMarker,
			SessionID: parts[2],
			EventID:   parts[3],
			Extra:     strings.Join(parts[4:], ":"),
		}
	case "student":
		if len(parts) < 3 || parts[2] == "" {
			return Payload{Kind: KindInvalid, Reason: "student marker requires a student id"}
		}
		return Payload{
			Kind:      KindStudentMarker,
			StudentID: parts[2],
			Extra:     strings.Join(parts[3:], ":"),
		}
	default:
		return Payload{Kind: KindInvalid, Reason: fmt.Sprintf("unknown marker type %q", parts[1])}
	}
}
