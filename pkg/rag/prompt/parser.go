package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrNoStructuredOutput = errors.New("no structured output found in model response")

// Outcome is the result of parsing a model response: either Value or Err.
type Outcome[T any] struct {
	Value T
	Err   error
	Raw   string
}

func (o Outcome[T]) OK() bool { return o.Err == nil }

func success[T any](v T, raw string) Outcome[T] { return Outcome[T]{Value: v, Raw: raw} }

func failure[T any](err error, raw string) Outcome[T] { return Outcome[T]{Err: err, Raw: raw} }

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
)

// StripReasoning removes <think> blocks that reasoning models prefix their output with.
func StripReasoning(raw string) string {
	s := thinkBlock.ReplaceAllString(raw, "")
	// A dangling close tag means the open tag was cut off upstream
	if i := strings.LastIndex(s, "</think>"); i >= 0 {
		s = s[i+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// Clean removes reasoning blocks and markdown code fences from a response.
func Clean(raw string) string {
	s := StripReasoning(raw)
	if m := codeFence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return strings.TrimSpace(s)
}

// ParseYesNo reads a YES/NO answer. An answer that mentions both is a NO.
func ParseYesNo(raw string) Outcome[bool] {
	s := strings.ToUpper(StripReasoning(raw))
	yes, no := strings.Contains(s, "YES"), strings.Contains(s, "NO")
	switch {
	case yes && !no:
		return success(true, raw)
	case no:
		return success(false, raw)
	}
	return failure[bool](ErrNoStructuredOutput, raw)
}

// ParseJSON decodes the first JSON value of type T found in raw.
func ParseJSON[T any](raw string) Outcome[T] {
	var v T
	cleaned := Clean(raw)
	if cleaned == "" {
		return failure[T](ErrNoStructuredOutput, raw)
	}

	if err := json.Unmarshal([]byte(cleaned), &v); err == nil {
		return success(v, raw)
	}

	span, ok := extractSpan(cleaned)
	if !ok {
		return failure[T](ErrNoStructuredOutput, raw)
	}
	if err := json.Unmarshal([]byte(span), &v); err != nil {
		return failure[T](fmt.Errorf("decode structured output: %w", err), raw)
	}
	return success(v, raw)
}

// ParseStringList decodes a list of strings. Besides JSON it accepts the
// single-quoted list form many models emit. Blank entries are dropped.
func ParseStringList(raw string) Outcome[[]string] {
	out := ParseJSON[[]string](raw)
	if !out.OK() {
		span, ok := extractSpan(Clean(raw))
		if !ok || !strings.HasPrefix(span, "[") {
			return out
		}
		items, err := splitQuotedList(span)
		if err != nil {
			return failure[[]string](err, raw)
		}
		out = success(items, raw)
	}

	cleaned := make([]string, 0, len(out.Value))
	for _, s := range out.Value {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	out.Value = cleaned
	return out
}

// extractSpan returns the outermost [...] or {...} block, whichever opens first.
func extractSpan(s string) (string, bool) {
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return "", false
	}
	closer := byte(']')
	if s[start] == '{' {
		closer = '}'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// splitQuotedList reads ['a', "b", 'it\'s'] into its string items.
func splitQuotedList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	var items []string
	for i := 0; i < len(s); i++ {
		q := s[i]
		if q != '\'' && q != '"' {
			continue
		}
		var b strings.Builder
		j := i + 1
		for ; j < len(s); j++ {
			if s[j] == '\\' && j+1 < len(s) {
				j++
				b.WriteByte(s[j])
				continue
			}
			if s[j] == q {
				break
			}
			b.WriteByte(s[j])
		}
		if j >= len(s) {
			return nil, fmt.Errorf("unterminated string in list")
		}
		items = append(items, b.String())
		i = j
	}
	if len(items) == 0 && strings.TrimSpace(s) != "" {
		return nil, ErrNoStructuredOutput
	}
	return items, nil
}
