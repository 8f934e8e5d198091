package backbone

import "fmt"

// ResidualPolicy selects which coordinates a residual addition keeps.
type ResidualPolicy int

const (
	// ResidualUnion sums over every coordinate of either branch.
	ResidualUnion ResidualPolicy = iota
	// ResidualIntersection sums only where both branches are active.
	ResidualIntersection
)

// ParseResidualPolicy accepts "union" or "intersection"; empty means union.
func ParseResidualPolicy(s string) (ResidualPolicy, error) {
	switch s {
	case "", "union":
		return ResidualUnion, nil
	case "intersection":
		return ResidualIntersection, nil
	}
	return 0, fmt.Errorf("unknown residual policy %q", s)
}

func (p ResidualPolicy) String() string {
	switch p {
	case ResidualUnion:
		return "union"
	case ResidualIntersection:
		return "intersection"
	}
	return fmt.Sprintf("ResidualPolicy(%d)", int(p))
}
