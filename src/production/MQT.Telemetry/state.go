package telemetry

import (
	"sync"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
)

// DeviceState is the in-memory ingestion state of one device.
type DeviceState struct {
	Run     *mqtmodels.Run
	Metrics mqtmodels.DeviceMetrics
}

type deviceEntry struct {
	mu     sync.Mutex
	loaded bool
	state  DeviceState
}

// StateStore keeps one entry per device, each guarded by its own mutex.
// The store-wide mutex only covers the map lookup.
type StateStore struct {
	mu      sync.Mutex
	devices map[string]*deviceEntry
}

// NewStateStore returns an empty store.
func NewStateStore() *StateStore {
	return &StateStore{devices: make(map[string]*deviceEntry)}
}

// acquire locks the entry of deviceID, creating it on first use. The caller
// must call the returned release func.
func (s *StateStore) acquire(deviceID string) (*deviceEntry, func()) {
	s.mu.Lock()
	e, ok := s.devices[deviceID]
	if !ok {
		e = &deviceEntry{}
		s.devices[deviceID] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	return e, e.mu.Unlock
}

// Snapshot returns a copy of the state of deviceID.
func (s *StateStore) Snapshot(deviceID string) (DeviceState, bool) {
	s.mu.Lock()
	e, ok := s.devices[deviceID]
	s.mu.Unlock()
	if !ok {
		return DeviceState{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return DeviceState{}, false
	}
	out := DeviceState{Metrics: cloneMetrics(e.state.Metrics)}
	if e.state.Run != nil {
		r := cloneRun(*e.state.Run)
		out.Run = &r
	}
	return out, true
}

// Len returns the number of devices seen.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

func cloneMetrics(m mqtmodels.DeviceMetrics) mqtmodels.DeviceMetrics {
	return mqtmodels.DeviceMetrics{
		InstRateHz: clonePtr(m.InstRateHz),
		EmaRateHz:  clonePtr(m.EmaRateHz),
	}
}
