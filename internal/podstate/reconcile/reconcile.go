// Package reconcile merges pod status reports into the pod state snapshot.
package reconcile

import (
	"fmt"
	"time"

	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/internal/podstate/model"
	"github.com/autopeer-io/podstate/internal/podstate/uncertainty"
)

// Result is the outcome of one reconciliation.
type Result struct {
	// Snapshot is the state implied by the report.
	Snapshot model.Snapshot

	// Changes lists the categories that differ from the previous snapshot.
	Changes model.ChangeSet

	// Outcome tells how a pending uncertain command was resolved, if any.
	Outcome uncertainty.Outcome
}

// Reconcile applies report to current. It never mutates current.
//
// A report older than current.LastResponseAt fails with core.ErrStaleReport.
// The TBR in the report is ground truth and is recorded as confirmed; a
// pending uncertain command is resolved against it. A recorded fault is only
// cleared by an explicit fault-cleared report.
func Reconcile(current model.Snapshot, report model.StatusReport) (Result, error) {
	if report.Timestamp.Before(current.LastResponseAt) {
		return Result{}, fmt.Errorf("%w: report at %s precedes last response at %s",
			core.ErrStaleReport, report.Timestamp.Format(time.RFC3339Nano), current.LastResponseAt.Format(time.RFC3339Nano))
	}

	next := current.Clone()
	var changes model.ChangeSet

	reported := report.TempBasal.Clone()
	if reported != nil {
		reported.Confirmed = true
	}
	if !reported.Equal(current.TempBasal) {
		next.TempBasal = reported
		changes.Add(model.TbrChanged)
	}

	outcome := uncertainty.Resolve(current.Uncertainty, reported)
	if outcome != uncertainty.OutcomeNone {
		next.Uncertainty = nil
		changes.Add(model.UncertainCommandRecovered)
	}

	if !report.ActiveAlerts.Equal(current.ActiveAlerts) {
		next.ActiveAlerts = report.ActiveAlerts.Sorted()
		changes.Add(model.ActiveAlertsChanged)
	}

	switch {
	case report.Fault != nil:
		if !report.Fault.SameFault(current.FaultEvent) {
			next.FaultEvent = report.Fault.Clone()
			changes.Add(model.FaultEventChanged)
		}
	case report.FaultCleared:
		if current.FaultEvent != nil {
			next.FaultEvent = nil
			changes.Add(model.FaultEventChanged)
		}
	}

	if report.Timestamp.After(next.LastResponseAt) {
		next.LastResponseAt = report.Timestamp
	}

	return Result{Snapshot: next, Changes: changes, Outcome: outcome}, nil
}
