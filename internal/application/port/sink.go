package port

import (
	"time"

	"targetwatch/internal/domain"
)

// EventType 槽位事件类型
type EventType string

const (
	EventRefreshed  EventType = "refreshed"
	EventPending    EventType = "pending"
	EventTransition EventType = "transition"
	EventRemoved    EventType = "removed"
)

// SlotEvent is published after every change of a ticker's slot state.
type SlotEvent struct {
	Type    EventType       `json:"type"`
	Ticker  string          `json:"ticker"`
	Slot    domain.SlotView `json:"slot"`
	Message string          `json:"message,omitempty"`
	At      time.Time       `json:"at"`
}

type SlotSink interface {
	Publish(ev SlotEvent)
}

// MultiSink fans an event out to several sinks.
type MultiSink []SlotSink

func (m MultiSink) Publish(ev SlotEvent) {
	for _, s := range m {
		if s != nil {
			s.Publish(ev)
		}
	}
}
