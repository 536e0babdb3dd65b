package qlc

import (
	"fmt"
	"strings"
)

// Wire constants for the QLC+ WebSocket text protocol.
const (
	// Namespace is the first field of every query and every reply.
	Namespace = "QLC+API"

	// FieldSeparator delimits fields within a frame. No escaping exists.
	FieldSeparator = "|"

	// pairListHeaderFields is the number of leading fields (namespace, verb)
	// preceding the id/label pairs of a list reply.
	pairListHeaderFields = 2

	// typeReplyMinFields is the minimum field count of a usable type reply.
	typeReplyMinFields = 3

	// pushCategoryFunction is the push key for function status changes.
	pushCategoryFunction = "FUNCTION"
)

// FrameKind classifies an inbound frame.
type FrameKind int

// Frame kinds.
const (
	FrameUnknown FrameKind = iota
	FrameReply             // namespaced frame matching an outstanding query
	FrameEcho              // namespaced frame nobody is waiting for
	FramePush              // unsolicited notification keyed by its first field
)

// String returns the frame kind name for logging.
func (k FrameKind) String() string {
	switch k {
	case FrameReply:
		return "reply"
	case FrameEcho:
		return "echo"
	case FramePush:
		return "push"
	default:
		return "unknown"
	}
}

// ReplyMatcher reports whether a namespaced frame answers an outstanding query.
// The Correlator satisfies this interface.
type ReplyMatcher interface {
	Matches(fields []string) bool
}

// PushCategory is the decoded category of a push frame.
type PushCategory int

// Push categories. Anything the bridge does not understand is PushUnrecognized.
const (
	PushUnrecognized PushCategory = iota
	PushFunction
)

// String returns the category name for logging.
func (c PushCategory) String() string {
	if c == PushFunction {
		return "function"
	}
	return "unrecognized"
}

// PushEvent is a decoded push frame.
type PushEvent struct {
	Category PushCategory
	Key      string // raw first field
	ID       string
	Status   string
	Fields   []string
}

// RawPair is one id/label pair from a list reply.
type RawPair struct {
	ID    string
	Label string
}

// Encode joins fields into a single frame. Fields are not escaped, so a
// field containing the separator produces an ambiguous frame.
func Encode(fields ...string) string {
	return strings.Join(fields, FieldSeparator)
}

// Decode splits a frame into fields. Fields are not trimmed.
func Decode(line string) []string {
	return strings.Split(line, FieldSeparator)
}

// ClassifyFrame determines how an inbound frame should be routed.
//
// A frame whose first field is the namespace marker is a Reply when the
// matcher has an outstanding query for it, and an Echo otherwise. Every
// other frame is a Push keyed by its first field.
func ClassifyFrame(fields []string, matcher ReplyMatcher) FrameKind {
	if len(fields) == 0 {
		return FrameUnknown
	}
	if fields[0] == Namespace {
		if matcher != nil && matcher.Matches(fields) {
			return FrameReply
		}
		return FrameEcho
	}
	return FramePush
}

// ParsePush decodes a push frame into its category.
//
// Returns:
//   - PushEvent: the decoded event (category PushUnrecognized for unknown keys)
//   - error: ErrInvalidFrame if a known category is missing fields
func ParsePush(fields []string) (PushEvent, error) {
	if len(fields) == 0 {
		return PushEvent{}, fmt.Errorf("%w: empty frame", ErrInvalidFrame)
	}

	ev := PushEvent{Key: fields[0], Fields: fields}
	switch fields[0] {
	case pushCategoryFunction:
		if len(fields) < 3 {
			return ev, fmt.Errorf("%w: function push needs id and status, got %d fields",
				ErrInvalidFrame, len(fields))
		}
		ev.Category = PushFunction
		ev.ID = fields[1]
		ev.Status = fields[2]
	default:
		ev.Category = PushUnrecognized
	}
	return ev, nil
}

// ParseTypeReply extracts the classification from a type-query reply.
//
// It returns the last field when the reply has at least three fields, the
// second field equals expectedCommand and the last field is not purely
// numeric (a numeric tail is the echoed id, meaning no type was reported).
// Otherwise it returns the empty string.
func ParseTypeReply(fields []string, expectedCommand string) string {
	if len(fields) < typeReplyMinFields {
		return ""
	}
	if fields[1] != expectedCommand {
		return ""
	}
	last := fields[len(fields)-1]
	if isDigits(last) {
		return ""
	}
	return last
}

// ParsePairList extracts id/label pairs from a list reply.
//
// The first two fields (namespace and verb) are skipped and the remainder is
// consumed two at a time. A trailing unpaired field is dropped.
func ParsePairList(fields []string) []RawPair {
	if len(fields) <= pairListHeaderFields {
		return nil
	}
	body := fields[pairListHeaderFields:]
	pairs := make([]RawPair, 0, len(body)/2)
	for i := 0; i+1 < len(body); i += 2 {
		pairs = append(pairs, RawPair{ID: body[i], Label: body[i+1]})
	}
	return pairs
}

// isQuery reports whether a command line carries the namespace marker.
func isQuery(command string) bool {
	return strings.HasPrefix(command, Namespace+FieldSeparator)
}

// commandVerb returns the verb of a namespaced frame, or "" when absent.
func commandVerb(fields []string) string {
	if len(fields) < 2 || fields[0] != Namespace {
		return ""
	}
	return fields[1]
}

// isDigits reports whether s is non-empty and consists only of ASCII digits.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
