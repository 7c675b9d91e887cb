// jsonscan.go recovers a complete JSON object embedded in prose. A naive
// regex between the first '{' and the next '}' truncates objects that nest
// braces or carry braces inside string literals, so the scan tracks brace
// depth and string state explicitly.
package marker

// ExtractJSONObject returns the first complete top-level JSON object found
// in text, or ("", false) when none closes properly.
func ExtractJSONObject(text string) (string, bool) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		if end, ok := scanObject(text, start); ok {
			return text[start : end+1], true
		}
		// An unterminated candidate cannot contain a later complete object
		// at top level, but a '{' inside prose might; keep scanning.
	}
	return "", false
}

// AllJSONObjects returns every non-overlapping balanced brace region in
// text, in order. Callers attempt to decode each candidate in turn, since
// prose can contain balanced braces that are not JSON.
func AllJSONObjects(text string) []string {
	var objects []string
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		if end, ok := scanObject(text, start); ok {
			objects = append(objects, text[start:end+1])
			start = end
		}
	}
	return objects
}

// scanObject walks from an opening brace to its matching close brace,
// honoring string literals and backslash escapes. Returns the index of
// the matching '}'.
func scanObject(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
