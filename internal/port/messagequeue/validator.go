package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/arbor/internal/domain/event"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	if !strings.HasPrefix(subject, event.SubjectPrefix+".") {
		return nil
	}

	var p TreeEventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if p.ForestID == "" || p.Type == "" {
		return fmt.Errorf("schema validation failed for %s: forest_id and type are required", subject)
	}
	if want := p.Subject(); want != subject {
		return fmt.Errorf("schema validation failed for %s: payload belongs on %s", subject, want)
	}
	return nil
}
