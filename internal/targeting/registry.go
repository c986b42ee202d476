package targeting

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/seefeesaw/afroverse-sub006/pkg/errors"
)

// RuleRef is how a campaign references a predicate: by registered name plus a
// single numeric parameter. Predicates that take no parameter ignore it.
type RuleRef struct {
	Name  string `json:"name" validate:"required"`
	Param int    `json:"param,omitempty"`
}

// Builder constructs a predicate from a campaign's parameter value.
type Builder func(param int) Predicate

// Registry is the lookup table of available predicates. Builtins are
// registered at construction; operator-defined predicates are added at
// startup via Register.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates a registry with the builtin predicate set.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}

	r.Register(RuleStreakNotSafe, func(int) Predicate { return StreakNotSafe{} })
	r.Register(RuleTimeToMidnight, func(p int) Predicate { return TimeToMidnightLE{Minutes: p} })
	r.Register(RuleVoteCountBelow, func(p int) Predicate { return VoteCountLT{N: p} })
	r.Register(RuleLoginBonusUnclaimed, func(int) Predicate { return LoginBonusUnclaimedAfter18{} })
	r.Register(RuleInBattle, func(int) Predicate { return InBattle{} })
	r.Register(RuleBattleTimeLeft, func(p int) Predicate { return BattleTimeLeftLE{Minutes: p} })
	r.Register(RuleTransformCompleted, func(int) Predicate { return TransformCompleted{} })
	r.Register(RuleTribeHourActive, func(int) Predicate { return TribeHourActive{} })
	r.Register(RuleLeaderboardClimb, func(int) Predicate { return LeaderboardClimb{} })

	return r
}

// Register adds or replaces a predicate builder under a name.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Remove drops a predicate from the registry.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.builders, name)
}

// Names returns the registered predicate names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every referenced predicate name is registered.
// Campaigns with unknown names must be rejected at configuration time, before
// any audience is resolved.
func (r *Registry) Validate(refs []RuleRef) (bool, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var unknown []string
	for _, ref := range refs {
		if _, ok := r.builders[ref.Name]; !ok {
			unknown = append(unknown, ref.Name)
		}
	}
	return len(unknown) == 0, unknown
}

// Build resolves rule references into predicate instances. Any unknown name
// is a configuration error.
func (r *Registry) Build(refs []RuleRef) ([]Predicate, error) {
	if valid, unknown := r.Validate(refs); !valid {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown targeting rules: %v", unknown))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	predicates := make([]Predicate, 0, len(refs))
	for _, ref := range refs {
		predicates = append(predicates, r.builders[ref.Name](ref.Param))
	}
	return predicates, nil
}
