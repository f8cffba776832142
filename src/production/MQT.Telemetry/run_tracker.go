package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
)

// EndKind tells which end marker a run duration was measured against.
type EndKind string

const (
	EndNone     EndKind = ""
	EndExplicit EndKind = "explicit"
	EndInferred EndKind = "inferred"
)

// runBaseKeys are the payload fields that announce a run base, in priority order.
var runBaseKeys = []string{"run_base_ts", "run_start_ts", "run_start"}

// RunAnnouncement is the optional first-event-of-run metadata that may ride
// along with any telemetry message.
type RunAnnouncement struct {
	RunKey         *string
	Baseline       *float64
	Threshold      *float64
	ResetThreshold *float64
	IsLeader       *bool
}

// AnnouncementFromPayload extracts run metadata. Fields with the wrong type
// are left out.
func AnnouncementFromPayload(p Payload) RunAnnouncement {
	var a RunAnnouncement
	switch v := p["run_key"].(type) {
	case string:
		if v != "" {
			a.RunKey = &v
		}
	case nil, bool:
	default:
		if f, ok := toFloat(v); ok {
			s := strconv.FormatFloat(f, 'f', -1, 64)
			a.RunKey = &s
		}
	}
	a.Baseline = optionalFloat(p["baseline"])
	a.Threshold = optionalFloat(p["threshold"])
	a.ResetThreshold = optionalFloat(p["reset_threshold"])
	if v, ok := p["is_leader"]; ok && v != nil {
		if b, err := coerceBool(v); err == nil {
			a.IsLeader = &b
		}
	}
	return a
}

func optionalFloat(v any) *float64 {
	if v == nil {
		return nil
	}
	if _, isBool := v.(bool); isBool {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}

// applyTo copies present fields onto run and reports whether anything changed.
func (a RunAnnouncement) applyTo(run *mqtmodels.Run) bool {
	changed := false
	if a.RunKey != nil && (run.RunKey == nil || *run.RunKey != *a.RunKey) {
		v := *a.RunKey
		run.RunKey = &v
		changed = true
	}
	changed = mergeFloat(&run.Meta.Baseline, a.Baseline) || changed
	changed = mergeFloat(&run.Meta.Threshold, a.Threshold) || changed
	changed = mergeFloat(&run.Meta.ResetThreshold, a.ResetThreshold) || changed
	if a.IsLeader != nil && (run.Meta.IsLeader == nil || *run.Meta.IsLeader != *a.IsLeader) {
		v := *a.IsLeader
		run.Meta.IsLeader = &v
		changed = true
	}
	return changed
}

func mergeFloat(dst **float64, src *float64) bool {
	if src == nil || (*dst != nil && **dst == *src) {
		return false
	}
	v := *src
	*dst = &v
	return true
}

// RunBaseCandidate returns the announced run base of a payload. The first
// present key wins; if its value does not parse to a valid instant the
// announcement is ignored and ErrUnknownRunBase is returned.
func RunBaseCandidate(p Payload) (time.Time, error) {
	v, key, ok := p.first(runBaseKeys...)
	if !ok {
		return time.Time{}, nil
	}
	ts, ok := ParseInstant(v)
	if !ok || !ValidInstant(ts) {
		return time.Time{}, fmt.Errorf("%w: %s is not a valid instant", ErrUnknownRunBase, key)
	}
	return normalizeBase(ts), nil
}

// Bases are compared for equality across restarts, so they are kept at the
// millisecond precision every storage backend round-trips.
func normalizeBase(t time.Time) time.Time {
	return t.UTC().Round(time.Millisecond)
}

// RunTracker maintains run boundaries. It is stateless itself: the active run
// of a device is passed in and the updated one returned, so callers own the
// per-device state.
type RunTracker struct {
	runs interfaces.RunRepository
}

// NewRunTracker creates a tracker persisting through runs.
func NewRunTracker(runs interfaces.RunRepository) *RunTracker {
	return &RunTracker{runs: runs}
}

// AnnounceBase processes a valid run base candidate for a device. A base that
// matches the active run merges metadata only. A different base closes the
// active run at candidate and activates the run at candidate, reviving a
// stored one when it exists. It returns the run active afterwards and whether
// a transition happened.
func (t *RunTracker) AnnounceBase(ctx context.Context, deviceID string, active *mqtmodels.Run, candidate time.Time, ann RunAnnouncement) (*mqtmodels.Run, bool, error) {
	candidate = normalizeBase(candidate)

	if active != nil && active.BaseTs.Equal(candidate) {
		merged := cloneRun(*active)
		if !ann.applyTo(&merged) {
			return active, false, nil
		}
		if err := t.runs.UpsertRun(ctx, merged); err != nil {
			return nil, false, storageErr("merge run", err)
		}
		return &merged, false, nil
	}

	if active != nil {
		closed := cloneRun(*active)
		end := candidate
		closed.Meta.RunEndTs = &end
		if err := t.runs.UpsertRun(ctx, closed); err != nil {
			return nil, false, storageErr("close run", err)
		}
	}

	next := mqtmodels.Run{DeviceID: deviceID, BaseTs: candidate}
	existing, err := t.runs.GetRun(ctx, deviceID, candidate)
	switch {
	case err == nil:
		next = cloneRun(*existing)
	case !errors.Is(err, interfaces.ErrNotFound):
		return nil, false, storageErr("get run", err)
	}
	ann.applyTo(&next)
	if err := t.runs.UpsertRun(ctx, next); err != nil {
		return nil, false, storageErr("open run", err)
	}
	return &next, true, nil
}

// ObserveSample moves the inferred end of run to ts unless an explicit end exists.
func (t *RunTracker) ObserveSample(ctx context.Context, run *mqtmodels.Run, ts time.Time) (*mqtmodels.Run, error) {
	if run == nil || run.Meta.RunEndTs != nil {
		return run, nil
	}
	if inferred := run.Meta.RunEndInferredTs; inferred != nil && inferred.Equal(ts) {
		return run, nil
	}
	next := cloneRun(*run)
	end := ts
	next.Meta.RunEndInferredTs = &end
	if err := t.runs.UpsertRun(ctx, next); err != nil {
		return nil, storageErr("infer run end", err)
	}
	return &next, nil
}

// Duration measures a run against its explicit end, else its inferred end.
// ok is false when the run has neither.
func Duration(run mqtmodels.Run) (d time.Duration, kind EndKind, ok bool) {
	switch {
	case run.Meta.RunEndTs != nil:
		return run.Meta.RunEndTs.Sub(run.BaseTs), EndExplicit, true
	case run.Meta.RunEndInferredTs != nil:
		return run.Meta.RunEndInferredTs.Sub(run.BaseTs), EndInferred, true
	}
	return 0, EndNone, false
}

func cloneRun(r mqtmodels.Run) mqtmodels.Run {
	out := r
	out.RunKey = clonePtr(r.RunKey)
	out.Meta.Baseline = clonePtr(r.Meta.Baseline)
	out.Meta.Threshold = clonePtr(r.Meta.Threshold)
	out.Meta.ResetThreshold = clonePtr(r.Meta.ResetThreshold)
	out.Meta.IsLeader = clonePtr(r.Meta.IsLeader)
	out.Meta.RunEndTs = clonePtr(r.Meta.RunEndTs)
	out.Meta.RunEndInferredTs = clonePtr(r.Meta.RunEndInferredTs)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
