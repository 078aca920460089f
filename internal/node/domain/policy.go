package domain

import "fmt"

// Policy is the replication factor and the write/read quorum sizes.
type Policy struct {
	N int `json:"n" yaml:"n"`
	W int `json:"w" yaml:"w"`
	R int `json:"r" yaml:"r"`
}

func (p Policy) Validate() error {
	if p.N < 1 {
		return fmt.Errorf("%w: n=%d must be at least 1", ErrInvalidPolicy, p.N)
	}
	if p.W < 1 || p.W > p.N {
		return fmt.Errorf("%w: w=%d must be in [1,%d]", ErrInvalidPolicy, p.W, p.N)
	}
	if p.R < 1 || p.R > p.N {
		return fmt.Errorf("%w: r=%d must be in [1,%d]", ErrInvalidPolicy, p.R, p.N)
	}
	return nil
}

// Overlapping reports whether every read quorum intersects every write quorum.
func (p Policy) Overlapping() bool {
	return p.R+p.W > p.N
}

func (p Policy) String() string {
	return fmt.Sprintf("N=%d W=%d R=%d", p.N, p.W, p.R)
}

// PolicySet picks a policy per namespace.
type PolicySet struct {
	Default    Policy            `json:"default" yaml:"default"`
	Namespaces map[string]Policy `json:"namespaces" yaml:"namespaces"`
}

func (s PolicySet) For(namespace string) Policy {
	if p, ok := s.Namespaces[namespace]; ok {
		return p
	}
	return s.Default
}

// MaxN is the largest replication factor in the set. Anti-entropy treats a
// node as a partition replica under this factor.
func (s PolicySet) MaxN() int {
	n := s.Default.N
	for _, p := range s.Namespaces {
		if p.N > n {
			n = p.N
		}
	}
	return n
}

func (s PolicySet) Validate() error {
	if err := s.Default.Validate(); err != nil {
		return fmt.Errorf("default policy: %w", err)
	}
	for ns, p := range s.Namespaces {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("namespace %q: %w", ns, err)
		}
	}
	return nil
}
