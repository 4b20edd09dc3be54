package pipeline

import (
	"moto-alarm/ingestion/internal/domain"
	"moto-alarm/ingestion/internal/metrics"
)

// StateUpdate is one evaluated sample headed for the live state store.
// Alert is set when the evaluation raised the alarm.
type StateUpdate struct {
	Sample *domain.Sample
	State  domain.AlarmState
	Alert  *domain.AlertEvent
}

// Dispatcher fans work out to the background writers. Sends never block; a
// full channel drops the item and counts it.
type Dispatcher struct {
	StateChan     chan *StateUpdate
	AccessLogChan chan *domain.AccessLogEntry
}

func NewDispatcher(stateSize, accessLogSize int) *Dispatcher {
	return &Dispatcher{
		StateChan:     make(chan *StateUpdate, stateSize),
		AccessLogChan: make(chan *domain.AccessLogEntry, accessLogSize),
	}
}

func (d *Dispatcher) DispatchState(u *StateUpdate) bool {
	select {
	case d.StateChan <- u:
		return true
	default:
		metrics.StateChannelDrops.Add(1)
		return false
	}
}

func (d *Dispatcher) DispatchAccessLog(e *domain.AccessLogEntry) bool {
	select {
	case d.AccessLogChan <- e:
		return true
	default:
		metrics.AccessLogChannelDrops.Add(1)
		return false
	}
}
