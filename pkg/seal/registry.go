package seal

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrVersionRegression is returned when a seal does not advance the
	// contract's version.
	ErrVersionRegression = errors.New("seal: contract version does not advance")
	ErrInvalidSeal       = errors.New("seal: seal does not verify")
	ErrInvalidVersion    = errors.New("seal: contract version is not semantic")
	ErrUnnamedContract   = errors.New("seal: contract has no name or contract_id")
)

type entry struct {
	seal    *Seal
	version *semver.Version
}

// Registry keeps the seal history of each named contract. Versions must
// strictly increase, which blocks rollback to an older contract.
type Registry struct {
	mu      sync.RWMutex
	history map[string][]entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{history: make(map[string][]entry)}
}

// Register verifies s and appends it to its contract's history.
func (r *Registry) Register(s *Seal) error {
	if res := Check(s); !res.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidSeal, res.Reason)
	}
	name := s.ContractName()
	if name == "" {
		return ErrUnnamedContract
	}
	v, err := semver.NewVersion(s.ContractVersion)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s.ContractVersion, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	hist := r.history[name]
	if n := len(hist); n > 0 {
		if cur := hist[n-1].version; !v.GreaterThan(cur) {
			return fmt.Errorf("%w: %s %s after %s", ErrVersionRegression, name, v, cur)
		}
	}
	r.history[name] = append(hist, entry{seal: s, version: v})
	return nil
}

// Latest returns the most recently registered seal for name.
func (r *Registry) Latest(name string) (*Seal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hist := r.history[name]
	if len(hist) == 0 {
		return nil, false
	}
	return hist[len(hist)-1].seal, true
}

// History returns the seals for name, oldest first.
func (r *Registry) History(name string) []*Seal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Seal, 0, len(r.history[name]))
	for _, e := range r.history[name] {
		out = append(out, e.seal)
	}
	return out
}

// Names returns the registered contract names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.history))
	for n := range r.history {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
