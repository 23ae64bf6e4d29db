// Package id generates short prefixed identifiers for processing attempts and stream clients.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes in use across the agent.
const (
	PrefixAttempt = "att"
	PrefixClient  = "sse"
)

// idLength keeps IDs short enough to read in a log line.
const idLength = 12

// Generate returns prefix-nanoid, e.g. "att-V1StGXR8_Z5j".
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New(idLength)
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}
