// Package marker parses the plain-text marker protocol the coding agent's
// output is written in: bracketed named blocks embedded in surrounding
// prose. Each extractor yields typed records so downstream logic never
// re-parses raw text, and distinguishes "block absent" from an explicit
// nothing-found sentinel emitted by the agent.
package marker

import (
	"strings"
)

// Presence reports what an extractor found.
type Presence int

const (
	// Absent means no matching block and no sentinel appeared.
	Absent Presence = iota
	// ExplicitNone means the agent emitted the block's nothing-found sentinel.
	ExplicitNone
	// Found means at least one matching block was parsed.
	Found
)

// Block names and their nothing-found sentinels.
const (
	blockConcern      = "CONCERN"
	blockStep         = "STEP"
	blockModification = "PLAN-MODIFICATION"
	blockRemoval      = "REMOVE-STEPS"
	blockStatus       = "STATUS"
	blockStepComplete = "STEP-COMPLETE"
	blockSubmission   = "SUBMISSION-CREATED"

	sentinelNoConcerns    = "[NO-CONCERNS]"
	sentinelNoSteps       = "[NO-STEPS]"
	sentinelNoPlanChanges = "[NO-PLAN-CHANGES]"
	sentinelNoStatus      = "[NO-STATUS]"
	sentinelNoSubmission  = "[NO-SUBMISSION]"

	// implementationCompleteToken is the agent's self-reported completion
	// signal. It is surfaced for logging only; completion is always decided
	// from step state.
	implementationCompleteToken = "[IMPLEMENTATION-COMPLETE]"
)

// rawBlock is one bracketed block lifted out of the text: its attribute
// string from the opening tag and its body.
type rawBlock struct {
	attrs string
	body  string
}

// findBlocks scans text for "[NAME attrs]...[/NAME]" blocks. Matching is
// case-insensitive and tolerant of prose around the blocks. A block with a
// missing close tag runs to end of text rather than being dropped.
func findBlocks(text, name string) []rawBlock {
	var blocks []rawBlock
	upper := strings.ToUpper(text)
	open := "[" + strings.ToUpper(name)
	close := "[/" + strings.ToUpper(name) + "]"

	pos := 0
	for {
		start := strings.Index(upper[pos:], open)
		if start < 0 {
			return blocks
		}
		start += pos

		// The open tag must terminate with ']' and be followed by either an
		// attribute list or nothing: "[STEP]" or "[STEP id=x]". Reject
		// prefix collisions like "[STEP-COMPLETE]" when scanning for STEP.
		rest := start + len(open)
		if rest >= len(text) {
			return blocks
		}
		if text[rest] != ']' && text[rest] != ' ' {
			pos = rest
			continue
		}

		tagEnd := strings.IndexByte(text[start:], ']')
		if tagEnd < 0 {
			return blocks
		}
		tagEnd += start

		attrs := strings.TrimSpace(text[start+len(open) : tagEnd])
		bodyStart := tagEnd + 1

		end := strings.Index(upper[bodyStart:], close)
		var body string
		if end < 0 {
			body = text[bodyStart:]
			pos = len(text)
		} else {
			body = text[bodyStart : bodyStart+end]
			pos = bodyStart + end + len(close)
		}

		blocks = append(blocks, rawBlock{attrs: attrs, body: strings.TrimSpace(body)})
		if pos >= len(text) {
			return blocks
		}
	}
}

// parseAttrs splits an attribute string like `id=s1 parent="s0" status=pending`
// into a lowercase-keyed map. Values may be bare or quoted; quoted values
// may contain spaces.
func parseAttrs(attrs string) map[string]string {
	result := make(map[string]string)
	i := 0
	for i < len(attrs) {
		for i < len(attrs) && (attrs[i] == ' ' || attrs[i] == '\t') {
			i++
		}
		start := i
		for i < len(attrs) && attrs[i] != '=' && attrs[i] != ' ' && attrs[i] != '\t' {
			i++
		}
		if i >= len(attrs) || attrs[i] != '=' {
			continue
		}
		key := strings.ToLower(attrs[start:i])
		i++

		var val string
		if i < len(attrs) && (attrs[i] == '"' || attrs[i] == '\'') {
			quote := attrs[i]
			i++
			vstart := i
			for i < len(attrs) && attrs[i] != quote {
				i++
			}
			val = attrs[vstart:i]
			if i < len(attrs) {
				i++
			}
		} else {
			vstart := i
			for i < len(attrs) && attrs[i] != ' ' && attrs[i] != '\t' {
				i++
			}
			val = attrs[vstart:i]
		}
		if key != "" {
			result[key] = val
		}
	}
	return result
}

// hasSentinel reports whether text contains the given sentinel token,
// case-insensitively.
func hasSentinel(text, sentinel string) bool {
	return strings.Contains(strings.ToUpper(text), strings.ToUpper(sentinel))
}

// HasImplementationCompleteSignal reports the agent's textual completion
// claim. Callers log it; they must not act on it.
func HasImplementationCompleteSignal(text string) bool {
	return hasSentinel(text, implementationCompleteToken)
}

// parseKeyValueLines parses colon-separated "key: value" lines into a
// lowercase-keyed map, skipping anything that does not look like a field.
func parseKeyValueLines(body string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		if strings.ContainsAny(key, " \t") {
			continue
		}
		result[key] = strings.TrimSpace(line[colon+1:])
	}
	return result
}
