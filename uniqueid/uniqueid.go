// Package uniqueid models hierarchical test identifiers: an immutable path
// of typed segments addressing one node in an execution tree, with a
// canonical bracketed string form used as the join key between events,
// tracking output, and external tooling.
package uniqueid

import (
	"fmt"
	"strings"
)

// Well-known segment types. The grammar itself is open; these cover the
// vocabulary produced by common engines.
const (
	SegmentEngine       = "engine"
	SegmentClass        = "class"
	SegmentMethod       = "method"
	SegmentContainer    = "container"
	SegmentTestFactory  = "test-factory"
	SegmentTestTemplate = "test-template"
	SegmentDynamicTest  = "dynamic-test"
)

// Segment is one typed element of a unique ID path.
type Segment struct {
	Type  string
	Value string
}

// String returns the canonical `[type:value]` form of the segment.
func (s Segment) String() string {
	return fmt.Sprintf("[%s:%s]", s.Type, s.Value)
}

// UniqueID is the immutable hierarchical address of a node, from the
// session root down to the node itself. The zero value is invalid; IDs are
// built via Root/Append or Parse.
type UniqueID struct {
	segments []Segment
}

// Root creates a single-segment ID, conventionally of type "engine".
func Root(segmentType, value string) UniqueID {
	return UniqueID{segments: []Segment{{Type: segmentType, Value: value}}}
}

// Append returns a new ID with one additional trailing segment. The
// receiver is never mutated; the returned ID owns its own segment slice.
func (id UniqueID) Append(segmentType, value string) UniqueID {
	segments := make([]Segment, len(id.segments)+1)
	copy(segments, id.segments)
	segments[len(id.segments)] = Segment{Type: segmentType, Value: value}
	return UniqueID{segments: segments}
}

// Segments returns a copy of the ID's segment path.
func (id UniqueID) Segments() []Segment {
	out := make([]Segment, len(id.segments))
	copy(out, id.segments)
	return out
}

// LastSegment returns the final segment of the path. It returns the zero
// Segment for a zero-value ID.
func (id UniqueID) LastSegment() Segment {
	if len(id.segments) == 0 {
		return Segment{}
	}
	return id.segments[len(id.segments)-1]
}

// IsZero reports whether the ID carries no segments.
func (id UniqueID) IsZero() bool {
	return len(id.segments) == 0
}

// Equals reports whether both IDs have identical segment sequences.
func (id UniqueID) Equals(other UniqueID) bool {
	if len(id.segments) != len(other.segments) {
		return false
	}
	for i, seg := range id.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix addresses the same node or an ancestor
// of the node addressed by id.
func (id UniqueID) HasPrefix(prefix UniqueID) bool {
	if len(prefix.segments) > len(id.segments) {
		return false
	}
	for i, seg := range prefix.segments {
		if id.segments[i] != seg {
			return false
		}
	}
	return true
}

// EndsWith reports whether the final segment has the given type and value.
func (id UniqueID) EndsWith(segmentType, value string) bool {
	last := id.LastSegment()
	return last.Type == segmentType && last.Value == value
}

// String renders the canonical serialized form: `[type:value]` tokens
// joined by '/'. The output round-trips through Parse.
func (id UniqueID) String() string {
	var sb strings.Builder
	for i, seg := range id.segments {
		if i > 0 {
			sb.WriteByte('/')
		}
		sb.WriteString(seg.String())
	}
	return sb.String()
}

// ParseError describes a unique ID string that does not match the segment
// grammar. It names the offending token so callers can surface a precise
// diagnostic instead of a silently truncated ID.
type ParseError struct {
	Input string
	Token string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed unique ID %q: token %q: %s", e.Input, e.Token, e.Msg)
}

// Parse parses the canonical string form of a unique ID. It fails closed:
// any token that is not a well-formed `[type:value]` pair yields a
// ParseError and a zero ID.
func Parse(s string) (UniqueID, error) {
	if s == "" {
		return UniqueID{}, &ParseError{Input: s, Token: "", Msg: "empty input"}
	}
	tokens := strings.Split(s, "/")
	segments := make([]Segment, 0, len(tokens))
	for _, token := range tokens {
		seg, err := parseSegment(s, token)
		if err != nil {
			return UniqueID{}, err
		}
		segments = append(segments, seg)
	}
	return UniqueID{segments: segments}, nil
}

// MustParse is Parse for statically-known inputs; it panics on malformed
// input and is intended for tests and fixtures.
func MustParse(s string) UniqueID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func parseSegment(input, token string) (Segment, error) {
	if len(token) < 2 || token[0] != '[' || token[len(token)-1] != ']' {
		return Segment{}, &ParseError{Input: input, Token: token, Msg: "segment must be enclosed in brackets"}
	}
	body := token[1 : len(token)-1]
	if strings.ContainsAny(body, "[]") {
		return Segment{}, &ParseError{Input: input, Token: token, Msg: "segment contains nested brackets"}
	}
	segmentType, value, found := strings.Cut(body, ":")
	if !found {
		return Segment{}, &ParseError{Input: input, Token: token, Msg: "segment is missing a ':' separator"}
	}
	if segmentType == "" {
		return Segment{}, &ParseError{Input: input, Token: token, Msg: "segment type is empty"}
	}
	if value == "" {
		return Segment{}, &ParseError{Input: input, Token: token, Msg: "segment value is empty"}
	}
	return Segment{Type: segmentType, Value: value}, nil
}
