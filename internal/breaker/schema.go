// schema.go validates the shape of a stored breaker record before trusting
// it. Anything that fails the schema is treated as corruption and
// reinitialized.
package breaker

import (
	"bufio"
	"bytes"
	"encoding/json"

	"github.com/xeipuuv/gojsonschema"

	"github.com/drydock-dev/drydock/internal/storage"
)

const recordSchema = `{
  "type": "object",
  "required": ["state", "no_progress_count", "same_error_count", "total_opens", "current_loop"],
  "properties": {
    "state": {"type": "string", "enum": ["CLOSED", "HALF_OPEN", "OPEN"]},
    "no_progress_count": {"type": "integer", "minimum": 0},
    "same_error_count": {"type": "integer", "minimum": 0},
    "last_progress_loop": {"type": "integer", "minimum": -1},
    "total_opens": {"type": "integer", "minimum": 0},
    "current_loop": {"type": "integer", "minimum": 0},
    "last_reason": {"type": "string"}
  }
}`

var recordSchemaLoader = gojsonschema.NewStringLoader(recordSchema)

// decodeRecord parses and shape-checks a stored record. ok is false when
// the data cannot be trusted.
func decodeRecord(data []byte) (Record, bool) {
	result, err := gojsonschema.Validate(recordSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil || !result.Valid() {
		return Record{}, false
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false
	}
	return record, true
}

// readHistory parses the JSONL transition log, skipping unparsable lines.
func readHistory(store storage.Store, path string) ([]Transition, error) {
	data, err := store.Read(path)
	if err != nil {
		return nil, nil
	}

	var transitions []Transition
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t Transition
		if err := json.Unmarshal(line, &t); err != nil {
			continue
		}
		transitions = append(transitions, t)
	}
	return transitions, scanner.Err()
}
