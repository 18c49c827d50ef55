// Package secrets parses KEY=VALUE tokens supplied on the command line into
// entries sent alongside a deployment registration.
package secrets

import (
	"strings"

	"edgectl/internal/fault"
)

// Entry is one secret destined for the deployment environment.
type Entry struct {
	Kind  string `json:"kind"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Parse converts each KEY=VALUE token into an Entry. The first '=' delimits
// key from value and the value may itself contain '='. A single malformed
// token rejects the whole batch; no partial result is returned.
func Parse(tokens []string) ([]Entry, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	entries := make([]Entry, 0, len(tokens))
	for _, token := range tokens {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" || value == "" {
			return nil, fault.New(fault.Validation,
				"Invalid secret format: %s (expected KEY=VALUE)", token)
		}
		entries = append(entries, Entry{Kind: "secret", Key: key, Value: value})
	}
	return entries, nil
}
