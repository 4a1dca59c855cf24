package bridge

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DefaultMessage is reported when the interpreter's output matches no rule.
const DefaultMessage = "camera busy or unavailable"

const (
	successLine   = "SUCCESS"
	successPrefix = "SUCCESS:"
	errorPrefix   = "ERROR:"
)

// Result is the decoded answer of one bridge request: either Success or
// Failure, never both and never partially valid.
type Result interface {
	isResult()
}

// Success carries a base64 image payload and the capture time in Unix ms.
// Timestamp is zero for still captures, which do not report one.
type Success struct {
	Payload   string
	Timestamp uint64
}

// FailureKind tells reported errors apart from output we could not read.
type FailureKind int

const (
	// Unrecognized output: empty, garbage, or no known prefix.
	Unrecognized FailureKind = iota
	// Reported by the script with an ERROR: line.
	Reported
	// Protocol means a SUCCESS answer that breaks the grammar.
	Protocol
)

// Failure carries the message to show the user.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (Success) isResult() {}
func (Failure) isResult() {}

func splitLines(out string) []string {
	out = strings.TrimRight(out, "\r\n")
	if out == "" {
		return nil
	}
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// reported finds the first ERROR: line.
func reported(lines []string) (Failure, bool) {
	for _, l := range lines {
		if msg, ok := strings.CutPrefix(l, errorPrefix); ok {
			return Failure{Kind: Reported, Message: msg}, true
		}
	}
	return Failure{}, false
}

// ParseLive decodes the three-line live capture answer:
//
//	SUCCESS
//	<base64>
//	<unix ms>
func ParseLive(out string) Result {
	lines := splitLines(out)
	if len(lines) > 0 && lines[0] == successLine {
		if len(lines) != 3 || lines[1] == "" {
			return Failure{Kind: Protocol, Message: DefaultMessage}
		}
		ts, err := strconv.ParseUint(strings.TrimSpace(lines[2]), 10, 64)
		if err != nil {
			return Failure{Kind: Protocol, Message: DefaultMessage}
		}
		return Success{Payload: lines[1], Timestamp: ts}
	}
	if f, ok := reported(lines); ok {
		return f
	}
	return Failure{Kind: Unrecognized, Message: DefaultMessage}
}

type stillPayload struct {
	Base64 *string `json:"base64"`
}

// ParseStill decodes the single-line still capture answer
// SUCCESS:{"base64":"..."}.
func ParseStill(out string) Result {
	lines := splitLines(out)
	for _, l := range lines {
		body, ok := strings.CutPrefix(l, successPrefix)
		if !ok {
			continue
		}
		var p stillPayload
		if err := json.Unmarshal([]byte(body), &p); err != nil || p.Base64 == nil || *p.Base64 == "" {
			return Failure{Kind: Protocol, Message: DefaultMessage}
		}
		return Success{Payload: *p.Base64}
	}
	if f, ok := reported(lines); ok {
		return f
	}
	return Failure{Kind: Unrecognized, Message: DefaultMessage}
}

// ProbeResult is the answer of the presence check script.
type ProbeResult struct {
	Connected bool
	ID        string
}

// ParseProbe decodes CONNECTED:vvvv:pppp, DISCONNECTED or ERROR:msg.
func ParseProbe(out string) (ProbeResult, Result) {
	lines := splitLines(out)
	for _, l := range lines {
		if id, ok := strings.CutPrefix(l, "CONNECTED:"); ok {
			return ProbeResult{Connected: true, ID: id}, nil
		}
		if l == "DISCONNECTED" {
			return ProbeResult{}, nil
		}
	}
	if f, ok := reported(lines); ok {
		return ProbeResult{}, f
	}
	return ProbeResult{}, Failure{Kind: Unrecognized, Message: DefaultMessage}
}
