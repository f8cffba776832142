package telemetry

import (
	"context"
	"errors"
	"time"

	logger "github.com/cornellpepper/CuWatch-server/src/production/MQT.Logger"
	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
	"github.com/jonboulle/clockwork"
)

// RateReporter receives the metrics of every accepted sample that carried a dt.
type RateReporter interface {
	ReportRate(deviceID string, ts time.Time, m mqtmodels.DeviceMetrics)
}

// Outcome describes an accepted telemetry message.
type Outcome struct {
	Sample     mqtmodels.Sample
	Source     string
	Run        *mqtmodels.Run
	RunStarted bool
	Metrics    mqtmodels.DeviceMetrics
}

// Engine is the per-message ingestion step: it resolves the timestamp, tracks
// runs, updates rate estimates and persists the sample and device.
//
// Calls for one device must arrive in delivery order; calls for different
// devices may run concurrently.
type Engine struct {
	store      interfaces.Store
	clock      clockwork.Clock
	logger     *logger.Logger
	state      *StateStore
	resolver   *Resolver
	tracker    *RunTracker
	estimator  RateEstimator
	normalizer Normalizer
	reporters  []RateReporter
}

// NewEngine creates an engine over store.
func NewEngine(store interfaces.Store, clock clockwork.Clock, log *logger.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		store:     store,
		clock:     clock,
		logger:    log.WithComponent("telemetry"),
		state:     NewStateStore(),
		resolver:  NewResolver(clock),
		tracker:   NewRunTracker(store.Runs),
		estimator: NewRateEstimator(),
	}
}

// AddRateReporter registers r. Must be called before the engine handles messages.
func (e *Engine) AddRateReporter(r RateReporter) {
	e.reporters = append(e.reporters, r)
}

// State exposes the per-device state store.
func (e *Engine) State() *StateStore {
	return e.state
}

// HandleTelemetry processes one telemetry payload for deviceID.
//
// ErrMalformedMessage means the message was dropped and nothing was written.
// ErrStorageUnavailable means the message should be redelivered; in-memory
// state is only committed once every write has succeeded, so a redelivered
// message does not advance the rate estimate twice.
func (e *Engine) HandleTelemetry(ctx context.Context, deviceID string, p Payload) (*Outcome, error) {
	if deviceID == "" {
		return nil, malformed("empty device id")
	}
	fields, err := e.normalizer.Coerce(p)
	if err != nil {
		return nil, err
	}
	log := e.logger.WithDevice(deviceID)

	base, err := RunBaseCandidate(p)
	if err != nil {
		log.WarnWithError(err, "Ignoring run base")
	}
	ann := AnnouncementFromPayload(p)

	entry, release := e.state.acquire(deviceID)
	defer release()
	if err := e.restore(ctx, deviceID, entry); err != nil {
		return nil, err
	}

	run := entry.state.Run
	started := false
	if !base.IsZero() {
		if run, started, err = e.tracker.AnnounceBase(ctx, deviceID, run, base, ann); err != nil {
			return nil, err
		}
	}

	res := e.resolver.Resolve(p, run)
	if run == nil {
		// First event of a device with no announced base anchors its run.
		if run, started, err = e.tracker.AnnounceBase(ctx, deviceID, nil, res.Ts, ann); err != nil {
			return nil, err
		}
	}
	if run, err = e.tracker.ObserveSample(ctx, run, res.Ts); err != nil {
		return nil, err
	}

	metrics := cloneMetrics(entry.state.Metrics)
	rated := e.estimator.Update(&metrics, res.DtMs)

	sample, err := e.normalizer.Assemble(deviceID, res, fields)
	if err != nil {
		return nil, err
	}
	if err := e.store.Samples.InsertSample(ctx, sample); err != nil {
		return nil, storageErr("insert sample", err)
	}

	seen := res.Ts
	device := mqtmodels.Device{
		ID:           deviceID,
		LastSeen:     &seen,
		Online:       true,
		DeviceNumber: &fields.DeviceNumber,
		Meta:         mqtmodels.DeviceMeta{CurrentRun: run.Ref()},
	}
	if metrics.EmaRateHz != nil {
		m := cloneMetrics(metrics)
		device.Meta.Metrics = &m
	}
	if err := e.store.Devices.UpsertDevice(ctx, device); err != nil {
		return nil, storageErr("upsert device", err)
	}

	entry.state = DeviceState{Run: run, Metrics: metrics}

	if started {
		log.Logger.Info().
			Time("base_ts", run.BaseTs).
			Msg("Run started")
	}
	log.Logger.Debug().
		Time("ts", res.Ts).
		Str("source", res.Source).
		Int64("muon_count", sample.MuonCount).
		Msg("Sample stored")

	if rated {
		for _, r := range e.reporters {
			r.ReportRate(deviceID, res.Ts, cloneMetrics(metrics))
		}
	}

	return &Outcome{
		Sample:     sample,
		Source:     res.Source,
		Run:        run,
		RunStarted: started,
		Metrics:    cloneMetrics(metrics),
	}, nil
}

// HandleStatus records a status heartbeat: the device is seen now and online.
func (e *Engine) HandleStatus(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return malformed("empty device id")
	}
	if err := e.store.Devices.TouchDevice(ctx, deviceID, e.clock.Now().UTC()); err != nil {
		return storageErr("touch device", err)
	}
	return nil
}

// restore loads the stored run pointer and metrics the first time a device is
// seen by this process.
func (e *Engine) restore(ctx context.Context, deviceID string, entry *deviceEntry) error {
	if entry.loaded {
		return nil
	}
	dev, err := e.store.Devices.GetDevice(ctx, deviceID)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return storageErr("load device", err)
	}

	var state DeviceState
	if dev != nil {
		if dev.Meta.Metrics != nil {
			state.Metrics = cloneMetrics(*dev.Meta.Metrics)
		}
		if ref := dev.Meta.CurrentRun; ref != nil {
			run, err := e.store.Runs.GetRun(ctx, deviceID, ref.BaseTs)
			switch {
			case err == nil:
				state.Run = run
			case !errors.Is(err, interfaces.ErrNotFound):
				return storageErr("load run", err)
			}
		}
	}
	entry.state = state
	entry.loaded = true
	return nil
}
