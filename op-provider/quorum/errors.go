package quorum

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ErrorKind uint8

const (
	// NoAgreement means every backend answered or failed and no value gathered the required weight.
	NoAgreement ErrorKind = iota
	// IncompleteBatch means every backend failed with an incomplete batch reply.
	IncompleteBatch
)

func (k ErrorKind) String() string {
	if k == IncompleteBatch {
		return "incomplete batch"
	}
	return "no agreement"
}

// Vote is one distinct value seen during a quorum round, and the weight behind it.
type Vote struct {
	Value  json.RawMessage
	Weight uint64
}

// Error is returned when no quorum was reached. Errs aggregates the backend failures,
// so errors.As reaches the underlying JSON-RPC or transport errors.
type Error struct {
	Kind     ErrorKind
	Method   string
	Required uint64
	// Values holds every distinct value observed, heaviest first.
	Values []Vote
	Errs   error
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "quorum %s for %s (required weight %d", e.Kind, e.Method, e.Required)
	for _, v := range e.Values {
		fmt.Fprintf(&sb, ", %s with weight %d", truncate(v.Value), v.Weight)
	}
	sb.WriteString(")")
	if e.Errs != nil {
		fmt.Fprintf(&sb, ": %v", e.Errs)
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Errs
}

func truncate(v json.RawMessage) string {
	const max = 64
	if len(v) > max {
		return string(v[:max]) + "..."
	}
	return string(v)
}
