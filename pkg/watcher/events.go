package watcher

// EventType defines the type of event being broadcast.
type EventType string

const (
	EventBalanceUpdated EventType = "balance_updated"
	EventPriceUpdated   EventType = "price_updated"
	EventBlockUpdated   EventType = "block_updated"
	EventChainSwitched  EventType = "chain_switched"
)

// Event represents a monitoring event.
//
// Data is a models.BalanceEntry, models.PriceData or models.BlockData
// depending on Type. EventChainSwitched carries the new config.ChainConfig.
type Event struct {
	Type EventType
	Data interface{}
}

// Subscriber is a channel that receives events.
type Subscriber chan Event
