package mapper

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyPath         = errors.New("empty path")
	ErrMalformedIndex    = errors.New("malformed index key")
	ErrUnterminatedQuote = errors.New("unterminated quoted key")
)

// SegmentKind distinguishes the steps of a parsed path
type SegmentKind int

const (
	SegmentKey SegmentKind = iota
	SegmentIndex
	SegmentWildcard
)

// Segment is one step of a path: an object key, an array index or [*]
type Segment struct {
	Kind  SegmentKind
	Key   string
	Index int
}

func (s Segment) String() string {
	switch s.Kind {
	case SegmentIndex:
		return fmt.Sprintf("[%d]", s.Index)
	case SegmentWildcard:
		return "[*]"
	default:
		return s.Key
	}
}

// Path is a parsed source path such as "data.items[0].name" or
// "tags[*]['display name']".
type Path struct {
	raw      string
	Segments []Segment
}

func (p Path) String() string {
	return p.raw
}

// ParsePath parses dot/bracket notation. A leading "$" or "$." is accepted
// and ignored. Negative indexes count from the end of the array.
func ParsePath(raw string) (Path, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimPrefix(s, ".")
	if s == "" {
		return Path{}, ErrEmptyPath
	}

	path := Path{raw: raw}
	var key strings.Builder

	flush := func() {
		if key.Len() > 0 {
			path.Segments = append(path.Segments, Segment{Kind: SegmentKey, Key: key.String()})
			key.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return Path{}, fmt.Errorf("%w in %q", ErrMalformedIndex, raw)
			}
			inner := strings.TrimSpace(s[i+1 : i+end])

			if len(inner) > 0 && (inner[0] == '\'' || inner[0] == '"') {
				quote := inner[0]
				closeAt := strings.IndexByte(s[i+2:], quote)
				if closeAt < 0 {
					return Path{}, fmt.Errorf("%w in %q", ErrUnterminatedQuote, raw)
				}
				name := s[i+2 : i+2+closeAt]
				after := i + 2 + closeAt + 1
				if after >= len(s) || s[after] != ']' {
					return Path{}, fmt.Errorf("%w in %q", ErrMalformedIndex, raw)
				}
				path.Segments = append(path.Segments, Segment{Kind: SegmentKey, Key: name})
				i = after
				continue
			}

			seg, err := parseIndex(inner)
			if err != nil {
				return Path{}, fmt.Errorf("%w in %q", err, raw)
			}
			path.Segments = append(path.Segments, seg)
			i += end
		default:
			key.WriteByte(c)
		}
	}
	flush()

	if len(path.Segments) == 0 {
		return Path{}, ErrEmptyPath
	}
	return path, nil
}

func parseIndex(inner string) (Segment, error) {
	if inner == "*" {
		return Segment{Kind: SegmentWildcard}, nil
	}
	n, err := strconv.Atoi(inner)
	if err != nil {
		return Segment{}, ErrMalformedIndex
	}
	return Segment{Kind: SegmentIndex, Index: n}, nil
}

// Resolve walks value along the path. The boolean is false when any segment
// has nothing to select: a missing key, an index out of range, or a step
// into a scalar. A present JSON null resolves to (nil, true).
//
// A wildcard maps the rest of the path over every array element and yields
// the matches as []any; it resolves as long as the array itself exists.
func (p Path) Resolve(value any) (any, bool) {
	return resolve(value, p.Segments)
}

func resolve(value any, segments []Segment) (any, bool) {
	current := value

	for i, seg := range segments {
		switch seg.Kind {
		case SegmentKey:
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			next, ok := obj[seg.Key]
			if !ok {
				return nil, false
			}
			current = next

		case SegmentIndex:
			arr, ok := current.([]any)
			if !ok {
				return nil, false
			}
			idx := seg.Index
			if idx < 0 {
				idx += len(arr)
			}
			if idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]

		case SegmentWildcard:
			arr, ok := current.([]any)
			if !ok {
				return nil, false
			}
			rest := segments[i+1:]
			matches := make([]any, 0, len(arr))
			for _, elem := range arr {
				if v, found := resolve(elem, rest); found {
					matches = append(matches, v)
				}
			}
			return matches, true
		}
	}

	return current, true
}
