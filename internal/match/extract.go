package match

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var trailingComma = regexp.MustCompile(`,\s*([\}\]])`)

// ExtractJSON digs a JSON object out of model output that may carry code
// fences, prose preambles, unbalanced braces, or trailing commas. Order:
// whole body, first balanced {...} block, brace-padding repair, trailing
// comma strip.
func ExtractJSON(raw string) (map[string]any, error) {
	raw = stripFences(raw)

	if obj := tryLoad(raw); obj != nil {
		return obj, nil
	}

	if block := firstBlock(raw); block != "" {
		if obj := tryLoad(block); obj != nil {
			return obj, nil
		}
		// more opens than closes: pad the right side
		opens := strings.Count(block, "{")
		closes := strings.Count(block, "}")
		if opens > closes {
			if obj := tryLoad(block + strings.Repeat("}", opens-closes)); obj != nil {
				return obj, nil
			}
		}
		if obj := tryLoad(trailingComma.ReplaceAllString(block, "$1")); obj != nil {
			return obj, nil
		}
	}

	if obj := tryLoad(trailingComma.ReplaceAllString(raw, "$1")); obj != nil {
		return obj, nil
	}

	return nil, fmt.Errorf("no valid JSON object in model output")
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	return strings.TrimSpace(strings.Trim(raw, "`"))
}

func tryLoad(s string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil
	}
	return obj
}

// firstBlock walks from the first '{' counting braces outside strings.
func firstBlock(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escape {
			escape = false
			continue
		}
		switch {
		case ch == '\\':
			escape = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	// opened but never closed; caller may repair
	return text[start:]
}
