package implementation

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
)

// MemoryStore keeps devices, runs and samples in process. It follows the
// merge semantics of the Postgres repositories and backs the "memory" storage
// driver and the tests of the packages above storage.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]mqtmodels.Device
	runs    map[runKey]mqtmodels.Run
	samples map[string][]mqtmodels.Sample

	// FailWith, when set, is returned by every call; used to simulate an outage.
	FailWith error
}

type runKey struct {
	deviceID string
	baseTs   int64
}

func keyOf(deviceID string, baseTs time.Time) runKey {
	return runKey{deviceID: deviceID, baseTs: baseTs.UnixNano()}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]mqtmodels.Device),
		runs:    make(map[runKey]mqtmodels.Run),
		samples: make(map[string][]mqtmodels.Sample),
	}
}

// Store exposes the memory repositories through the interfaces bundle.
func (m *MemoryStore) Store() interfaces.Store {
	return interfaces.Store{
		Devices: m,
		Runs:    m,
		Samples: m,
		Ping:    func(context.Context) error { return m.fail() },
	}
}

func (m *MemoryStore) fail() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.FailWith
}

// SetFailure makes every following call return err; nil restores service.
func (m *MemoryStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailWith = err
}

// Device operations
func (m *MemoryStore) UpsertDevice(_ context.Context, device mqtmodels.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	stored, ok := m.devices[device.ID]
	if !ok {
		m.devices[device.ID] = device
		return nil
	}
	stored.LastSeen = device.LastSeen
	stored.Online = device.Online
	if device.DeviceNumber != nil {
		stored.DeviceNumber = device.DeviceNumber
	}
	if device.Meta.CurrentRun != nil {
		stored.Meta.CurrentRun = device.Meta.CurrentRun
	}
	if device.Meta.Metrics != nil {
		stored.Meta.Metrics = device.Meta.Metrics
	}
	m.devices[device.ID] = stored
	return nil
}

func (m *MemoryStore) TouchDevice(_ context.Context, deviceID string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	stored := m.devices[deviceID]
	stored.ID = deviceID
	seen := seenAt.UTC()
	stored.LastSeen = &seen
	stored.Online = true
	m.devices[deviceID] = stored
	return nil
}

func (m *MemoryStore) GetDevice(_ context.Context, deviceID string) (*mqtmodels.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	d, ok := m.devices[deviceID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &d, nil
}

func (m *MemoryStore) ListDevices(_ context.Context) ([]mqtmodels.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	out := make([]mqtmodels.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b mqtmodels.Device) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Run operations
func (m *MemoryStore) UpsertRun(_ context.Context, run mqtmodels.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	run.BaseTs = run.BaseTs.UTC()
	k := keyOf(run.DeviceID, run.BaseTs)
	stored, ok := m.runs[k]
	if !ok {
		m.runs[k] = run
		return nil
	}
	if run.RunKey != nil {
		stored.RunKey = run.RunKey
	}
	mergeRunMeta(&stored.Meta, run.Meta)
	m.runs[k] = stored
	return nil
}

func mergeRunMeta(dst *mqtmodels.RunMeta, src mqtmodels.RunMeta) {
	if src.Baseline != nil {
		dst.Baseline = src.Baseline
	}
	if src.Threshold != nil {
		dst.Threshold = src.Threshold
	}
	if src.ResetThreshold != nil {
		dst.ResetThreshold = src.ResetThreshold
	}
	if src.IsLeader != nil {
		dst.IsLeader = src.IsLeader
	}
	if src.RunEndTs != nil {
		dst.RunEndTs = src.RunEndTs
	}
	if src.RunEndInferredTs != nil {
		dst.RunEndInferredTs = src.RunEndInferredTs
	}
}

func (m *MemoryStore) GetRun(_ context.Context, deviceID string, baseTs time.Time) (*mqtmodels.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	r, ok := m.runs[keyOf(deviceID, baseTs)]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, deviceID string) ([]mqtmodels.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	var out []mqtmodels.Run
	for k, r := range m.runs {
		if k.deviceID == deviceID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b mqtmodels.Run) int { return b.BaseTs.Compare(a.BaseTs) })
	return out, nil
}

// Sample operations
func (m *MemoryStore) InsertSample(_ context.Context, s mqtmodels.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	s.Ts = s.Ts.UTC()
	m.samples[s.DeviceID] = append(m.samples[s.DeviceID], s)
	return nil
}

func (m *MemoryStore) ListSamples(_ context.Context, params interfaces.SampleQueryParams) ([]mqtmodels.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	var out []mqtmodels.Sample
	for _, s := range m.samples[params.DeviceID] {
		if params.Start != nil && s.Ts.Before(*params.Start) {
			continue
		}
		if params.End != nil && s.Ts.After(*params.End) {
			continue
		}
		out = append(out, s)
	}

	slices.SortStableFunc(out, func(a, b mqtmodels.Sample) int {
		c := a.Ts.Compare(b.Ts)
		if c == 0 {
			c = cmp.Compare(a.MuonCount, b.MuonCount)
		}
		if params.Order == interfaces.Descending {
			return -c
		}
		return c
	})

	if params.Offset > 0 {
		out = out[min(params.Offset, len(out)):]
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

// SampleCount returns the number of stored samples of a device.
func (m *MemoryStore) SampleCount(deviceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples[deviceID])
}

// RunCount returns the number of stored runs of a device.
func (m *MemoryStore) RunCount(deviceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.runs {
		if k.deviceID == deviceID {
			n++
		}
	}
	return n
}
