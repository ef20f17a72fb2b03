// Package types defines the core data structures of the IDE memory store:
// knowledge entries, their compact search form and their timeline events.
package types

import (
	"errors"
	"fmt"
)

// KnowledgeType classifies a knowledge entry. The set is closed; the zero
// value is not a valid type and only appears when a value was never set.
type KnowledgeType uint8

// Knowledge type constants.
const (
	TypeDecision KnowledgeType = iota + 1
	TypeBugFix
	TypePattern
	TypeConfig
	TypeContext
	TypeSummary
)

// ErrUnknownKnowledgeType is returned when a string does not name one of the
// knowledge types.
var ErrUnknownKnowledgeType = errors.New("unknown knowledge type")

// KnowledgeTypes lists every valid knowledge type in wire order.
var KnowledgeTypes = []KnowledgeType{
	TypeDecision,
	TypeBugFix,
	TypePattern,
	TypeConfig,
	TypeContext,
	TypeSummary,
}

// String returns the wire name of the type.
func (k KnowledgeType) String() string {
	switch k {
	case TypeDecision:
		return "decision"
	case TypeBugFix:
		return "bugfix"
	case TypePattern:
		return "pattern"
	case TypeConfig:
		return "config"
	case TypeContext:
		return "context"
	case TypeSummary:
		return "summary"
	}
	return fmt.Sprintf("KnowledgeType(%d)", uint8(k))
}

// Valid reports whether k is one of the declared knowledge types.
func (k KnowledgeType) Valid() bool {
	return k >= TypeDecision && k <= TypeSummary
}

// ParseKnowledgeType converts a wire name into a KnowledgeType.
func ParseKnowledgeType(s string) (KnowledgeType, error) {
	switch s {
	case "decision":
		return TypeDecision, nil
	case "bugfix":
		return TypeBugFix, nil
	case "pattern":
		return TypePattern, nil
	case "config":
		return TypeConfig, nil
	case "context":
		return TypeContext, nil
	case "summary":
		return TypeSummary, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKnowledgeType, s)
}

// KnowledgeTypeNames returns the wire names of all knowledge types, in the
// order used by the tool catalog's enum.
func KnowledgeTypeNames() []string {
	names := make([]string, len(KnowledgeTypes))
	for i, k := range KnowledgeTypes {
		names[i] = k.String()
	}
	return names
}

// MarshalText implements encoding.TextMarshaler.
func (k KnowledgeType) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKnowledgeType, uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *KnowledgeType) UnmarshalText(text []byte) error {
	parsed, err := ParseKnowledgeType(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
