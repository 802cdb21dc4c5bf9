// Package uuid provides the UUIDv4 job identifier generator.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates random job identifiers.
type Generator struct{}

// NewGenerator returns a Generator.
func NewGenerator() *Generator { return &Generator{} }

// NewID returns a new UUIDv4 string.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return id.String(), nil
}
