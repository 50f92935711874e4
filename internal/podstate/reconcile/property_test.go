package reconcile

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/autopeer-io/podstate/internal/podstate/codec"
	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/internal/podstate/model"
)

// genReport produces valid status reports within one hour of t0.
func genReport() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 3600),
		gen.IntRange(-1, 60),
		gen.IntRange(1, 24),
		gen.SliceOf(gen.IntRange(0, 7)),
		gen.IntRange(-1, 4),
		gen.Bool(),
	).Map(func(v []interface{}) model.StatusReport {
		r := model.StatusReport{Timestamp: t0.Add(time.Duration(v[0].(int)) * time.Second)}

		if step := v[1].(int); step >= 0 {
			r.TempBasal = &model.TempBasal{
				RateUnitsPerHour: float64(step) * 0.05,
				DurationMinutes:  v[2].(int) * 30,
				StartTime:        t0,
			}
		}

		ids := make([]model.AlertID, 0, len(v[3].([]int)))
		for _, slot := range v[3].([]int) {
			ids = append(ids, model.AlertID(fmt.Sprintf("slot%d", slot)))
		}
		r.ActiveAlerts = model.NewAlertSet(ids...)

		if code := v[4].(int); code >= 0 {
			r.Fault = &model.FaultEvent{Code: uint16(code), OccurredAt: t0}
		} else {
			r.FaultCleared = v[5].(bool)
		}
		return r
	})
}

func TestReconcileProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("reconciling the same report twice yields no changes", prop.ForAll(
		func(prev, report model.StatusReport) bool {
			first, err := Reconcile(model.NewSnapshot(t0), prev)
			if err != nil {
				return false
			}
			report.Timestamp = first.Snapshot.LastResponseAt.Add(report.Timestamp.Sub(t0))
			second, err := Reconcile(first.Snapshot, report)
			if err != nil {
				return false
			}
			third, err := Reconcile(second.Snapshot, report)
			return err == nil && third.Changes.Empty()
		},
		genReport(), genReport(),
	))

	properties.Property("older reports are rejected without touching the snapshot", prop.ForAll(
		func(a, b model.StatusReport) bool {
			if !b.Timestamp.Before(a.Timestamp) {
				return true
			}
			applied, err := Reconcile(model.NewSnapshot(t0), a)
			if err != nil {
				return false
			}
			before, _ := codec.Encode(applied.Snapshot)

			_, err = Reconcile(applied.Snapshot, b)
			after, _ := codec.Encode(applied.Snapshot)
			return errors.Is(err, core.ErrStaleReport) && bytes.Equal(before, after)
		},
		genReport(), genReport(),
	))

	properties.Property("changing only the fault yields exactly FaultEventChanged", prop.ForAll(
		func(report model.StatusReport, code int) bool {
			applied, err := Reconcile(model.NewSnapshot(t0), report)
			if err != nil {
				return false
			}

			next := report
			next.Timestamp = report.Timestamp.Add(time.Second)
			next.FaultCleared = false
			next.Fault = &model.FaultEvent{Code: uint16(code), OccurredAt: next.Timestamp}
			if next.Fault.SameFault(applied.Snapshot.FaultEvent) {
				return true
			}

			res, err := Reconcile(applied.Snapshot, next)
			return err == nil && len(res.Changes) == 1 && res.Changes.Has(model.FaultEventChanged)
		},
		genReport(), gen.IntRange(100, 200),
	))

	properties.Property("last response time never moves backwards", prop.ForAll(
		func(a, b model.StatusReport) bool {
			first, err := Reconcile(model.NewSnapshot(t0), a)
			if err != nil {
				return false
			}
			second, err := Reconcile(first.Snapshot, b)
			if err != nil {
				return errors.Is(err, core.ErrStaleReport)
			}
			return !second.Snapshot.LastResponseAt.Before(first.Snapshot.LastResponseAt)
		},
		genReport(), genReport(),
	))

	properties.TestingRun(t)
}
