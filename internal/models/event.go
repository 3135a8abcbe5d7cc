package models

import "time"

type EventType string

const (
	EventStarted         EventType = "started"
	EventStopped         EventType = "stopped"
	EventTradeExecuted   EventType = "trade_executed"
	EventError           EventType = "error"
	EventStrategyAdded   EventType = "strategy_added"
	EventStrategyUpdated EventType = "strategy_updated"
	EventStrategyRemoved EventType = "strategy_removed"
	EventStrategyToggled EventType = "strategy_toggled"
)

type Event struct {
	Type     EventType    `json:"type"`
	Trade    *TradeResult `json:"trade,omitempty"`
	Strategy *Strategy    `json:"strategy,omitempty"`
	Err      error        `json:"-"`
	Message  string       `json:"message,omitempty"`
	At       time.Time    `json:"at"`
}

func NewErrorEvent(err error) Event {
	return Event{Type: EventError, Err: err, Message: err.Error(), At: time.Now().UTC()}
}
