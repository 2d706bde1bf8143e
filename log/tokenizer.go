package log

import (
	"fmt"
	"strings"
)

type token struct {
	key, value string
	// inside is '[' for values given as a bracketed list
	inside rune
}

// tokenize splits a `key=value,key=[a,b]` line. Keys may repeat.
func tokenize(line string) ([]token, error) {
	var tokens []token
	for line != "" {
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, fmt.Errorf("key `%s` with no value", line)
		}
		t := token{key: line[:eq]}
		rest := line[eq+1:]

		if strings.HasPrefix(rest, "[") {
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("key `%s` has an unterminated list", t.key)
			}
			t.value, t.inside = rest[1:end], '['
			rest = rest[end+1:]
			if rest != "" && rest[0] != ',' {
				return nil, fmt.Errorf("key `%s` has trailing characters after its list", t.key)
			}
		} else {
			end := strings.IndexByte(rest, ',')
			if end < 0 {
				end = len(rest)
			}
			t.value = rest[:end]
			rest = rest[end:]
		}
		if t.value == "" && t.inside == 0 {
			return nil, fmt.Errorf("key `%s=` with no value", t.key)
		}

		tokens = append(tokens, t)
		line = strings.TrimPrefix(rest, ",")
	}
	return tokens, nil
}
