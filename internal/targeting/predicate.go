// Package targeting resolves a campaign's base audience by class and narrows
// it through composable per-recipient predicates. Predicates are pure with
// respect to the snapshot and compose by AND.
package targeting

import (
	"time"

	"github.com/seefeesaw/afroverse-sub006/internal/domain"
)

// Predicate is one named per-recipient boolean rule.
type Predicate interface {
	// Name is the stable identifier campaigns reference.
	Name() string

	// Match reports whether the recipient qualifies. Implementations must
	// not mutate the snapshot.
	Match(snapshot *domain.RecipientSnapshot, now time.Time) bool
}

// Builtin predicate names.
const (
	RuleStreakNotSafe       = "streak_not_safe"
	RuleTimeToMidnight      = "time_to_midnight_le"
	RuleVoteCountBelow      = "vote_count_lt"
	RuleLoginBonusUnclaimed = "login_bonus_unclaimed_evening"
	RuleInBattle            = "in_battle"
	RuleBattleTimeLeft      = "battle_time_left_le"
	RuleTransformCompleted  = "transform_completed"
	RuleTribeHourActive     = "tribe_hour_active"
	RuleLeaderboardClimb    = "leaderboard_climb"
)

// StreakNotSafe matches recipients with a live streak who have not yet done
// today's qualifying activity, i.e. the streak is still at risk.
type StreakNotSafe struct{}

func (StreakNotSafe) Name() string { return RuleStreakNotSafe }

func (StreakNotSafe) Match(s *domain.RecipientSnapshot, _ time.Time) bool {
	return s.StreakDays > 0 && !s.StreakSafeToday
}

// TimeToMidnightLE matches when the recipient's local midnight is at most
// Minutes away. Used to escalate streak reminders as the day runs out.
type TimeToMidnightLE struct {
	Minutes int
}

func (TimeToMidnightLE) Name() string { return RuleTimeToMidnight }

func (p TimeToMidnightLE) Match(s *domain.RecipientSnapshot, now time.Time) bool {
	local := now.In(s.Location())
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location()).AddDate(0, 0, 1)
	return midnight.Sub(local) <= time.Duration(p.Minutes)*time.Minute
}

// VoteCountLT matches recipients who have cast fewer than N votes today.
type VoteCountLT struct {
	N int
}

func (VoteCountLT) Name() string { return RuleVoteCountBelow }

func (p VoteCountLT) Match(s *domain.RecipientSnapshot, _ time.Time) bool {
	return s.VotesToday < p.N
}

// LoginBonusUnclaimedAfter18 matches recipients who have not claimed today's
// login bonus and whose local time is past 18:00.
type LoginBonusUnclaimedAfter18 struct{}

func (LoginBonusUnclaimedAfter18) Name() string { return RuleLoginBonusUnclaimed }

func (LoginBonusUnclaimedAfter18) Match(s *domain.RecipientSnapshot, now time.Time) bool {
	if s.LoginBonusClaimed {
		return false
	}
	return now.In(s.Location()).Hour() >= 18
}

// The predicates below are extension points: the battle, transform, tribe and
// leaderboard subsystems have not wired their state into the snapshot yet, so
// each returns a fixed value. Campaigns may reference them today; they become
// meaningful once the owning subsystem supplies the data.

// InBattle matches recipients currently in a battle. Stubbed to false until
// the battle subsystem publishes battle membership.
type InBattle struct{}

func (InBattle) Name() string { return RuleInBattle }

func (InBattle) Match(*domain.RecipientSnapshot, time.Time) bool { return false }

// BattleTimeLeftLE matches when the recipient's active battle has at most
// Minutes left. Stubbed to false until battle timing is available.
type BattleTimeLeftLE struct {
	Minutes int
}

func (BattleTimeLeftLE) Name() string { return RuleBattleTimeLeft }

func (BattleTimeLeftLE) Match(*domain.RecipientSnapshot, time.Time) bool { return false }

// TransformCompleted matches recipients who finished a transformation today.
// Stubbed to false until the transform subsystem reports completions.
type TransformCompleted struct{}

func (TransformCompleted) Name() string { return RuleTransformCompleted }

func (TransformCompleted) Match(*domain.RecipientSnapshot, time.Time) bool { return false }

// TribeHourActive matches while the recipient's tribe hour is running.
// Stubbed to false until the tribe subsystem exposes the schedule.
type TribeHourActive struct{}

func (TribeHourActive) Name() string { return RuleTribeHourActive }

func (TribeHourActive) Match(*domain.RecipientSnapshot, time.Time) bool { return false }

// LeaderboardClimb matches recipients who climbed the leaderboard recently.
// Stubbed to false until leaderboard deltas are available.
type LeaderboardClimb struct{}

func (LeaderboardClimb) Name() string { return RuleLeaderboardClimb }

func (LeaderboardClimb) Match(*domain.RecipientSnapshot, time.Time) bool { return false }
