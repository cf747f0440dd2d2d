package server

import (
	"errors"
	"sync"
	"time"

	"walletsync/pkg/wallet"

	"github.com/gorilla/websocket"
)

// inbound is a websocket request. Subscribe with an account and no tokens
// watches the account's native balance; with tokens it watches those tokens.
type inbound struct {
	Op                   string   `json:"op"`
	ID                   string   `json:"id"`
	ChainID              int64    `json:"chain_id"`
	Account              string   `json:"account"`
	Tokens               []string `json:"tokens"`
	TreatWrappedAsNative bool     `json:"treat_wrapped_as_native"`
}

type outbound struct {
	Type  string      `json:"type"`
	ID    string      `json:"id,omitempty"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

var errClosed = errors.New("client closed")

type client struct {
	conn  *websocket.Conn
	store *wallet.Store

	writeMu sync.Mutex
	mu      sync.Mutex
	subs    map[string]wallet.Unsubscribe
	closed  bool
}

func newClient(conn *websocket.Conn, store *wallet.Store) *client {
	return &client{
		conn:  conn,
		store: store,
		subs:  make(map[string]wallet.Unsubscribe),
	}
}

func (c *client) send(msg outbound) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, body)
}

func (c *client) handle(msg inbound) *outbound {
	switch msg.Op {
	case "subscribe":
		if msg.ID == "" {
			return &outbound{Type: "error", Error: "subscription id required"}
		}
		if !c.store.Tokens().HasChain(msg.ChainID) {
			return &outbound{Type: "error", ID: msg.ID, Error: "unknown chain"}
		}
		account, err := wallet.ValidateAddress(msg.Account)
		if err != nil {
			return &outbound{Type: "error", ID: msg.ID, Error: err.Error()}
		}
		var unsub wallet.Unsubscribe
		switch {
		case len(msg.Tokens) == 0:
			unsub = c.store.SubscribeETHBalances(msg.ChainID, []string{account})
		case msg.TreatWrappedAsNative:
			unsub = c.store.SubscribeTokenBalancesTreatingWrappedAsNative(msg.ChainID, account, msg.Tokens)
		default:
			unsub = c.store.SubscribeTokenBalances(msg.ChainID, account, msg.Tokens)
		}
		prev, err := c.register(msg.ID, unsub)
		if err != nil {
			unsub()
			return &outbound{Type: "error", ID: msg.ID, Error: err.Error()}
		}
		if prev != nil {
			prev()
		}
		return &outbound{Type: "subscribed", ID: msg.ID}

	case "unsubscribe":
		unsub, ok := c.unregister(msg.ID)
		if !ok {
			return &outbound{Type: "error", ID: msg.ID, Error: "unknown subscription"}
		}
		unsub()
		return &outbound{Type: "unsubscribed", ID: msg.ID}
	}
	return &outbound{Type: "error", ID: msg.ID, Error: "unknown op"}
}

// register stores unsub under id and returns the handle it replaces. A closed
// client keeps nothing; the caller owns unsub then.
func (c *client) register(id string, unsub wallet.Unsubscribe) (wallet.Unsubscribe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	prev := c.subs[id]
	c.subs[id] = unsub
	return prev, nil
}

func (c *client) unregister(id string) (wallet.Unsubscribe, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	unsub, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
	}
	return unsub, ok
}

// close releases every subscription the connection still holds.
func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	_ = c.conn.Close()
}
