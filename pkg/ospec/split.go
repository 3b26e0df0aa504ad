package ospec

import (
	"fmt"
	"strings"
)

// Default nesting pairs. open[i] is closed by close[i]; a quote is its
// own closer and nothing inside a quoted region is structural.
const (
	DefaultOpen  = "\"([{"
	DefaultClose = "\")]}"
)

// SyntaxError reports malformed nesting in an ospec.
type SyntaxError struct {
	Spec string // the string being scanned
	Pos  int    // offending byte offset in Spec
	Char byte
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("ospec: %s at position %d\n%s\n%s^",
		e.Msg, e.Pos, e.Spec, strings.Repeat(" ", e.Pos))
}

// IsEscaped reports whether str[pos] is preceded by an odd number of
// backslashes.
func IsEscaped(str string, pos int) bool {
	n := 0
	for i := pos - 1; i >= 0 && str[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

// FindClose returns the position of the character that closes the
// region opened at str[start]. Nested regions must close first.
func FindClose(str string, start int, open, close string) (int, error) {
	if start < 0 || start >= len(str) {
		return -1, &SyntaxError{Spec: str, Pos: max(0, min(start, len(str))), Msg: "no open character"}
	}
	style := strings.IndexByte(open, str[start])
	if style < 0 || IsEscaped(str, start) {
		return -1, &SyntaxError{Spec: str, Pos: start, Char: str[start], Msg: "not an open character"}
	}
	end, bad := findClose(str, start, open, close, style)
	if end < 0 {
		return -1, &SyntaxError{
			Spec: str,
			Pos:  bad,
			Char: str[bad],
			Msg:  fmt.Sprintf("unmatched %c", str[bad]),
		}
	}
	return end, nil
}

// findClose returns (close, -1) on success or (-1, pos) where pos is the
// open character that failed to match.
func findClose(str string, start int, open, close string, style int) (int, int) {
	want := close[style]
	quoted := open[style] == want
	for i := start + 1; i < len(str); i++ {
		c := str[i]
		if IsEscaped(str, i) {
			continue
		}
		if c == want {
			return i, -1
		}
		if quoted {
			continue
		}
		if o := strings.IndexByte(open, c); o >= 0 {
			end, bad := findClose(str, i, open, close, o)
			if end < 0 {
				return -1, bad
			}
			i = end
			continue
		}
		if strings.IndexByte(close, c) >= 0 {
			// Closing something that is not the innermost open region.
			return -1, start
		}
	}
	return -1, start
}

// SplitNested splits str on every delim that is neither escaped nor inside
// a nested region. Every open character met along the way must be
// balanced, whether or not a delimiter follows it. An empty delim splits
// str into single characters.
func SplitNested(str, delim, open, close string) ([]string, error) {
	if delim == "" {
		return strings.Split(str, ""), nil
	}
	var out []string
	start := 0
	for i := 0; i < len(str); {
		if IsEscaped(str, i) {
			i++
			continue
		}
		if strings.HasPrefix(str[i:], delim) {
			out = append(out, str[start:i])
			i += len(delim)
			start = i
			continue
		}
		if strings.IndexByte(open, str[i]) >= 0 {
			end, err := FindClose(str, i, open, close)
			if err != nil {
				return nil, err
			}
			i = end + 1
			continue
		}
		i++
	}
	return append(out, str[start:]), nil
}

// SplitUnescaped splits str on every delim not preceded by an escape.
func SplitUnescaped(str, delim string) []string {
	if delim == "" {
		return strings.Split(str, "")
	}
	var out []string
	start := 0
	for i := 0; i+len(delim) <= len(str); {
		if strings.HasPrefix(str[i:], delim) && !IsEscaped(str, i) {
			out = append(out, str[start:i])
			i += len(delim)
			start = i
			continue
		}
		i++
	}
	return append(out, str[start:])
}

// unnest strips "(...)" wrappers for as long as the first character's
// closer is the last character.
func unnest(spec string) (string, error) {
	for len(spec) >= 2 && spec[0] == '(' && spec[len(spec)-1] == ')' {
		end, err := FindClose(spec, 0, DefaultOpen, DefaultClose)
		if err != nil {
			return "", err
		}
		if end != len(spec)-1 {
			break
		}
		spec = spec[1 : len(spec)-1]
	}
	return spec, nil
}
