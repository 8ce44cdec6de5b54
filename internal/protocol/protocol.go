// Package protocol defines the wire format shared by the gateway and
// backend channels.
//
// Every message is a single line: an ASCII discriminant, optionally
// followed by ':' and a payload, terminated by '\n'. The format is
// deliberately trivial so any process, in any language, can
// speak it with a buffered line reader. It is defined here once and
// imported by every component that touches a socket.
package protocol

import (
	"strings"
)

// Kind is the message discriminant.
type Kind string

// Gateway channel messages.
const (
	// KindSecurityCheck asks the gateway to validate a command.
	KindSecurityCheck Kind = "SECURITY_CHECK"
	// KindApproved is the gateway's approval; payload is the command.
	KindApproved Kind = "APPROVED"
	// KindBlocked is the gateway's refusal; payload is the reason.
	KindBlocked Kind = "BLOCKED"
)

// Backend channel messages.
const (
	// KindQuery asks the backend to disambiguate natural-language text.
	KindQuery Kind = "QUERY"
	// KindCwd syncs the shell's working directory before a command.
	KindCwd Kind = "CWD"
	// KindStatus probes backend readiness.
	KindStatus Kind = "STATUS"
	// KindReady is the backend's ready status response.
	KindReady Kind = "AI_READY"
	// KindLoading is the backend's still-loading status response.
	KindLoading Kind = "AI_LOADING"
	// KindCommand marks a backend response carrying a concrete command.
	KindCommand Kind = "CMD"
	// KindEdit marks a backend response carrying explanatory text.
	KindEdit Kind = "EDIT"
	// KindRaw is the pseudo-kind for unprefixed lines. It never appears
	// on the wire; Parse returns it for free-form responses.
	KindRaw Kind = ""
)

// Message is one framed exchange unit.
type Message struct {
	Kind    Kind
	Payload string
}

// New builds a message.
func New(kind Kind, payload string) Message {
	return Message{Kind: kind, Payload: payload}
}

// Encode renders the message as a wire line, including the trailing
// newline. Kinds with no payload encode as the bare discriminant; a raw
// message encodes as its payload alone (the backend accepts bare command
// strings as direct execution requests).
func (m Message) Encode() []byte {
	var b strings.Builder

	switch {
	case m.Kind == KindRaw:
		b.WriteString(m.Payload)
	case m.Payload == "":
		b.WriteString(string(m.Kind))
	default:
		b.WriteString(string(m.Kind))
		b.WriteByte(':')
		b.WriteString(m.Payload)
	}

	b.WriteByte('\n')

	return []byte(b.String())
}

// knownKinds are the discriminants Parse recognizes. Order matters only
// for readability; prefixes are unambiguous.
var knownKinds = []Kind{
	KindSecurityCheck,
	KindApproved,
	KindBlocked,
	KindQuery,
	KindCwd,
	KindStatus,
	KindReady,
	KindLoading,
	KindCommand,
	KindEdit,
}

// Parse decodes one wire line (with or without the trailing newline).
// Unrecognized lines come back as KindRaw with the whole line as
// payload, so callers can surface free-form responses verbatim.
func Parse(line string) Message {
	line = strings.TrimRight(line, "\r\n")

	for _, kind := range knownKinds {
		tag := string(kind)

		if line == tag {
			return Message{Kind: kind}
		}

		if strings.HasPrefix(line, tag+":") {
			payload := strings.TrimLeft(line[len(tag)+1:], " \t")
			return Message{Kind: kind, Payload: payload}
		}
	}

	return Message{Kind: KindRaw, Payload: line}
}

// IsStatus reports whether the message is a readiness status response.
func (m Message) IsStatus() bool {
	return m.Kind == KindReady || m.Kind == KindLoading
}
