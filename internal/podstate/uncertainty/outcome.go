package uncertainty

import (
	"github.com/autopeer-io/podstate/internal/podstate/model"
)

// Outcome is how a pending command was resolved.
type Outcome string

const (
	// OutcomeNone means no command was pending.
	OutcomeNone       Outcome = ""
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeRolledBack Outcome = "rolled_back"
)

// Resolve decides a pending command against the TBR shown by a status report.
// The command is confirmed only on an exact match of kind, rate and duration.
func Resolve(token *model.UncertaintyToken, reported *model.TempBasal) Outcome {
	if token == nil {
		return OutcomeNone
	}
	if Matches(token.Command, reported) {
		return OutcomeConfirmed
	}
	return OutcomeRolledBack
}

// Matches reports whether reported is what the pod shows after cmd took effect.
func Matches(cmd model.TempBasalCommand, reported *model.TempBasal) bool {
	switch cmd.Kind {
	case model.CommandSetTempBasal:
		return reported != nil &&
			model.RatesEqual(reported.RateUnitsPerHour, cmd.RateUnitsPerHour) &&
			reported.DurationMinutes == cmd.DurationMinutes
	case model.CommandCancelTempBasal:
		return reported == nil
	default:
		return false
	}
}

// Rollback resolves the pending command of s by timeout: the TBR is cleared
// and the token dropped. It returns s unchanged with an empty ChangeSet when
// nothing is pending.
func Rollback(s model.Snapshot) (model.Snapshot, model.ChangeSet) {
	next := s.Clone()
	if next.Uncertainty == nil {
		return next, nil
	}

	var changes model.ChangeSet
	if next.TempBasal != nil {
		next.TempBasal = nil
		changes.Add(model.TbrChanged)
	}
	next.Uncertainty = nil
	changes.Add(model.UncertainCommandRecovered)
	return next, changes
}

// Apply marks s as waiting on token. A set command installs the expected TBR
// unconfirmed; a cancel command keeps the current TBR but unconfirmed.
func Apply(s model.Snapshot, token *model.UncertaintyToken) (model.Snapshot, model.ChangeSet) {
	next := s.Clone()
	next.Uncertainty = token.Clone()

	switch token.Command.Kind {
	case model.CommandSetTempBasal:
		next.TempBasal = token.Command.Expected(token.IssuedAt)
	case model.CommandCancelTempBasal:
		if next.TempBasal != nil {
			next.TempBasal.Confirmed = false
		}
	}

	var changes model.ChangeSet
	if !next.TempBasal.Equal(s.TempBasal) {
		changes.Add(model.TbrChanged)
	}
	return next, changes
}
