package price

import (
	"sync"

	"walletsync/pkg/metrics"

	"github.com/shopspring/decimal"
)

// ChangeFunc is called after a symbol's price is published.
type ChangeFunc func(symbol string, price decimal.Decimal)

// Store holds the last known good price per symbol. Only the poller and the
// derivers write to it.
type Store struct {
	mu        sync.RWMutex
	prices    map[string]decimal.Decimal
	listeners []ChangeFunc
}

func NewStore() *Store {
	return &Store{prices: make(map[string]decimal.Decimal)}
}

func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Set publishes price for symbol.
func (s *Store) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	s.prices[symbol] = price
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.mu.Unlock()

	f, _ := price.Float64()
	metrics.Price.WithLabelValues(symbol).Set(f)
	for _, fn := range listeners {
		fn(symbol, price)
	}
}

func (s *Store) Get(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// All returns a float snapshot of every known price.
func (s *Store) All() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]float64, len(s.prices))
	for k, v := range s.prices {
		f, _ := v.Float64()
		cp[k] = f
	}
	return cp
}
