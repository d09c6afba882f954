package editlog

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// TimestampLayout is the leading field of every DSpace log line
	TimestampLayout = "2006-01-02 15:04:05"

	DefaultServiceToken   = "ItemServiceImpl"
	DefaultOperationToken = "update_item"

	itemIDKey = "item_id"
)

// Match is the data extracted from a confirmed update line
type Match struct {
	ItemID    string
	EventTime time.Time // UTC, second resolution
	Editor    string
}

// Matcher recognizes confirmed item updates in DSpace log lines:
//
//	2026-02-18 11:40:01,123 INFO ... org.dspace.content.ItemServiceImpl @ user@example.org::update_item:item_id=1234
//
// Matching is case-sensitive and anchored to the literal tokens.
type Matcher struct {
	service string
	marker  string // "::" + operation + ":"
	loc     *time.Location
}

// Option configures a Matcher
type Option func(*Matcher)

// WithLocation sets the zone the log timestamps are written in
func WithLocation(loc *time.Location) Option {
	return func(m *Matcher) {
		if loc != nil {
			m.loc = loc
		}
	}
}

// WithTokens overrides the service and operation tokens
func WithTokens(service, operation string) Option {
	return func(m *Matcher) {
		if service != "" {
			m.service = service
		}
		if operation != "" {
			m.marker = "::" + operation + ":"
		}
	}
}

// NewMatcher creates a matcher for the default ItemServiceImpl/update_item grammar
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{
		service: DefaultServiceToken,
		marker:  "::" + DefaultOperationToken + ":",
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match reports whether line is a confirmed update and extracts its fields.
// Lines that do not match are expected and are not errors.
func (m *Matcher) Match(line string) (Match, bool) {
	if len(line) < len(TimestampLayout) || !strings.Contains(line, m.marker) {
		return Match{}, false
	}

	ts, err := time.ParseInLocation(TimestampLayout, line[:len(TimestampLayout)], m.loc)
	if err != nil {
		return Match{}, false
	}

	rest, ok := skipFraction(line[len(TimestampLayout):])
	if !ok {
		return Match{}, false
	}

	svc := m.serviceIndex(rest)
	if svc < 0 {
		return Match{}, false
	}
	afterService := rest[svc+len(m.service):]

	op := strings.Index(afterService, m.marker)
	if op < 0 {
		return Match{}, false
	}

	itemID := fieldValue(afterService[op+len(m.marker):], itemIDKey)
	if !validText(itemID) {
		return Match{}, false
	}

	return Match{
		ItemID:    itemID,
		EventTime: ts.UTC(),
		Editor:    parseEditor(afterService[:op]),
	}, true
}

// skipFraction drops an optional ",123" or ".123" after the timestamp and
// requires whitespace after it
func skipFraction(s string) (string, bool) {
	if s != "" && (s[0] == ',' || s[0] == '.') {
		i := 1
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == 1 {
			return "", false
		}
		s = s[i:]
	}
	if s == "" || (s[0] != ' ' && s[0] != '\t') {
		return "", false
	}
	return s, true
}

// serviceIndex finds the service token as a whole (optionally package-qualified) name
func (m *Matcher) serviceIndex(s string) int {
	from := 0
	for {
		i := strings.Index(s[from:], m.service)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(m.service)

		before := i == 0 || s[i-1] == ' ' || s[i-1] == '\t' || s[i-1] == '.'
		after := end == len(s) || s[end] == ' ' || s[end] == '\t' || s[end] == '@' || s[end] == ':'
		if before && after {
			return i
		}
		from = i + 1
	}
}

// fieldValue returns the value of key=value in a ':'-separated DSpace field list
func fieldValue(fields, key string) string {
	needle := key + "="
	from := 0
	for {
		i := strings.Index(fields[from:], needle)
		if i < 0 {
			return ""
		}
		i += from

		if i == 0 || strings.ContainsRune(": \t,", rune(fields[i-1])) {
			value := fields[i+len(needle):]
			if end := strings.IndexAny(value, ": \t,"); end >= 0 {
				value = value[:end]
			}
			return value
		}
		from = i + 1
	}
}

// parseEditor extracts "user" from the " @ user" segment between the service token and the operation.
// Undecodable bytes become U+FFFD and NUL is dropped.
func parseEditor(segment string) string {
	segment = strings.TrimSpace(segment)
	if !strings.HasPrefix(segment, "@") {
		return ""
	}
	editor := strings.ToValidUTF8(segment[1:], "\uFFFD")
	editor = strings.ReplaceAll(editor, "\x00", "")
	return strings.TrimSpace(editor)
}

// validText reports whether s can be stored as a text key: non-empty UTF-8 without NUL
func validText(s string) bool {
	return s != "" && utf8.ValidString(s) && strings.IndexByte(s, 0) < 0
}
