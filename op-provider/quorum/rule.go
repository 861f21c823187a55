package quorum

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

type ruleKind uint8

const (
	ruleMajority ruleKind = iota
	ruleAll
	rulePercentage
	ruleCount
	ruleWeight
)

// Rule decides how much agreeing weight makes a quorum.
// The zero value is Majority.
type Rule struct {
	kind ruleKind
	n    uint64
}

// Majority needs more than half of the total weight, rounding up.
func Majority() Rule { return Rule{kind: ruleMajority} }

// All needs every backend to agree.
func All() Rule { return Rule{kind: ruleAll} }

// AtLeastPercentage needs p percent of the total weight.
func AtLeastPercentage(p uint64) Rule { return Rule{kind: rulePercentage, n: p} }

// ExactCount needs the weight of the n lightest backends, i.e. any n backends.
func ExactCount(n uint64) Rule { return Rule{kind: ruleCount, n: n} }

// Weight needs the given absolute weight.
func Weight(w uint64) Rule { return Rule{kind: ruleWeight, n: w} }

// RequiredWeight returns the weight one value needs to win, given the weights of all backends.
func (r Rule) RequiredWeight(weights []uint64) uint64 {
	var total uint64
	for _, w := range weights {
		total += w
	}
	switch r.kind {
	case ruleAll:
		return total
	case rulePercentage:
		return total * r.n / 100
	case ruleCount:
		sorted := slices.Clone(weights)
		slices.Sort(sorted)
		var sum uint64
		for i := 0; i < len(sorted) && uint64(i) < r.n; i++ {
			sum += sorted[i]
		}
		return sum
	case ruleWeight:
		return r.n
	default:
		// strictly more than half, so an even split never agrees
		return total/2 + 1
	}
}

func (r Rule) String() string {
	switch r.kind {
	case ruleAll:
		return "all"
	case rulePercentage:
		return fmt.Sprintf("percentage:%d", r.n)
	case ruleCount:
		return fmt.Sprintf("count:%d", r.n)
	case ruleWeight:
		return fmt.Sprintf("weight:%d", r.n)
	default:
		return "majority"
	}
}

func (r *Rule) Set(value string) error {
	parsed, err := ParseRule(value)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r *Rule) UnmarshalText(text []byte) error {
	return r.Set(string(text))
}

func (r Rule) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseRule parses majority, all, percentage:<p>, count:<n> or weight:<w>.
func ParseRule(s string) (Rule, error) {
	name, arg, hasArg := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	switch name {
	case "", "majority":
		if hasArg {
			return Rule{}, fmt.Errorf("rule %q takes no argument", name)
		}
		return Majority(), nil
	case "all":
		if hasArg {
			return Rule{}, fmt.Errorf("rule %q takes no argument", name)
		}
		return All(), nil
	}
	if !hasArg {
		return Rule{}, fmt.Errorf("rule %q needs an argument", name)
	}
	n, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid argument of rule %q: %w", name, err)
	}
	switch name {
	case "percentage":
		if n == 0 || n > 100 {
			return Rule{}, fmt.Errorf("percentage must be in (0, 100], got %d", n)
		}
		return AtLeastPercentage(n), nil
	case "count":
		if n == 0 {
			return Rule{}, fmt.Errorf("count must be positive")
		}
		return ExactCount(n), nil
	case "weight":
		if n == 0 {
			return Rule{}, fmt.Errorf("weight must be positive")
		}
		return Weight(n), nil
	default:
		return Rule{}, fmt.Errorf("unknown quorum rule %q", name)
	}
}
