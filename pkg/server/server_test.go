package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"walletsync/pkg/config"
	"walletsync/pkg/models"
	"walletsync/pkg/watcher"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	account = "0x2222222222222222222222222222222222222222"
	token   = "0x1111111111111111111111111111111111111111"
)

type fakeSource struct{}

func (fakeSource) NativeBalance(ctx context.Context, chainID int64, addr string) (*big.Int, error) {
	return big.NewInt(42), nil
}

func (fakeSource) TokenBalance(ctx context.Context, chainID int64, addr, token string) (*big.Int, error) {
	return big.NewInt(7), nil
}

func (fakeSource) GetReserves(ctx context.Context, chainID int64, pair string) (*big.Int, *big.Int, error) {
	return nil, nil, errors.New("no pair")
}

func (fakeSource) BlockNumber(ctx context.Context, chainID int64) (uint64, error) {
	return 10, nil
}

func (fakeSource) SubscribeNewHeads(ctx context.Context, chainID int64, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, errors.New("no ws")
}

func newTestServer(t *testing.T) (*Server, *watcher.Watcher) {
	t.Helper()
	cfg := config.Config{
		Addresses: []config.AddressConfig{{Address: account, Name: "Main"}},
		Chains: []config.ChainConfig{{
			Name:    "Testnet",
			ChainID: 7,
			Symbol:  "TST",
			RPCURLs: []string{"http://127.0.0.1:1"},
			Tokens:  []config.TokenConfig{{Symbol: "AAA", Address: token, Decimals: 6}},
		}},
		Global: config.DefaultGlobalConfig(),
	}
	w, err := watcher.NewWatcher(cfg, zap.NewNop())
	require.NoError(t, err)
	w.SetDataSource(fakeSource{})
	return NewServer(w, zap.NewNop()), w
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, _ := http.NewRequest("GET", path, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(t)
	rr := get(t, s, "/api/status")

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]interface{}
	err := json.Unmarshal(rr.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Contains(t, resp, "accounts")
	assert.Contains(t, resp, "prices")
	assert.Contains(t, resp, "heights")
	assert.Equal(t, "Testnet", resp["chain"].(map[string]interface{})["name"])
}

func TestHandlePrices(t *testing.T) {
	s, _ := newTestServer(t)
	rr := get(t, s, "/api/prices")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{}`, rr.Body.String())
}

func TestHandleStatus_Gzip(t *testing.T) {
	s, _ := newTestServer(t)
	req, _ := http.NewRequest("GET", "/api/status", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
}

func TestHandleBalances(t *testing.T) {
	s, w := newTestServer(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"bad chain", "/api/balances/abc/" + account, http.StatusBadRequest},
		{"bad address", "/api/balances/7/0x1234", http.StatusBadRequest},
		{"nothing cached", "/api/balances/7/" + account, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, get(t, s, tt.path).Code)
		})
	}

	unsub := w.Balances().SubscribeETHBalances(7, []string{account})
	defer unsub()
	unsubTokens := w.Balances().SubscribeTokenBalances(7, account, []string{token})
	defer unsubTokens()

	require.Eventually(t, func() bool {
		_, ok := w.Balances().TokenBalance(7, account, token)
		return ok && len(w.Balances().ETHBalances(7, []string{account})) == 1
	}, time.Second, 5*time.Millisecond)

	rr := get(t, s, "/api/balances/7/"+strings.ToLower(account)+"?tokens="+token)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Account string                        `json:"account"`
		Native  *big.Int                      `json:"native"`
		Tokens  map[string]models.TokenAmount `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, account, resp.Account)
	assert.Equal(t, int64(42), resp.Native.Int64())
	assert.Equal(t, int64(7), resp.Tokens[token].Raw.Int64())
	assert.Equal(t, "AAA", resp.Tokens[token].Token.Symbol)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rr := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func dialWS(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(s.Handler())
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "initial", msg["type"])

	return ws, func() {
		_ = ws.Close()
		server.Close()
	}
}

func readType(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	var msg map[string]interface{}
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestHandleWS(t *testing.T) {
	s, w := newTestServer(t)
	ws, closeAll := dialWS(t, s)
	defer closeAll()

	key := models.SubscriptionKey{ChainID: 7, Address: account}

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"op": "subscribe", "id": "a", "chain_id": 7, "account": account}))
	msg := readType(t, ws)
	assert.Equal(t, "subscribed", msg["type"])
	assert.Equal(t, "a", msg["id"])
	assert.Equal(t, 1, w.Balances().Count(key))

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"op": "unsubscribe", "id": "a"}))
	msg = readType(t, ws)
	assert.Equal(t, "unsubscribed", msg["type"])
	assert.Equal(t, 0, w.Balances().Count(key))

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"op": "unsubscribe", "id": "a"}))
	assert.Equal(t, "error", readType(t, ws)["type"])

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"op": "subscribe", "id": "b", "chain_id": 7, "account": "0xnope"}))
	assert.Equal(t, "error", readType(t, ws)["type"])

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "error", readType(t, ws)["type"])
}

func TestHandleWS_TokenSubscription(t *testing.T) {
	s, w := newTestServer(t)
	ws, closeAll := dialWS(t, s)
	defer closeAll()

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"op": "subscribe", "id": "t", "chain_id": 7, "account": account,
		"tokens": []string{token}, "treat_wrapped_as_native": true,
	}))
	assert.Equal(t, "subscribed", readType(t, ws)["type"])
	assert.Equal(t, 1, w.Balances().Count(models.SubscriptionKey{ChainID: 7, Address: account, Token: token}))
}

func TestHandleWS_CloseReleasesSubscriptions(t *testing.T) {
	s, w := newTestServer(t)
	ws, closeAll := dialWS(t, s)
	defer closeAll()

	key := models.SubscriptionKey{ChainID: 7, Address: account}
	require.NoError(t, ws.WriteJSON(map[string]interface{}{"op": "subscribe", "id": "a", "chain_id": 7, "account": account}))
	assert.Equal(t, "subscribed", readType(t, ws)["type"])
	require.NoError(t, ws.WriteJSON(map[string]interface{}{"op": "subscribe", "id": "b", "chain_id": 7, "account": account}))
	assert.Equal(t, "subscribed", readType(t, ws)["type"])
	assert.Equal(t, 2, w.Balances().Count(key))

	_ = ws.Close()
	require.Eventually(t, func() bool {
		return w.Balances().Count(key) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcast(t *testing.T) {
	s, _ := newTestServer(t)
	ws, closeAll := dialWS(t, s)
	defer closeAll()

	s.broadcast(watcher.Event{Type: watcher.EventPriceUpdated, Data: models.PriceData{Symbol: "CXS", Price: 2.5}})

	msg := readType(t, ws)
	assert.Equal(t, "price_updated", msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "CXS", data["symbol"])
	assert.Equal(t, 2.5, data["price"])
}

// upgradedConn returns the server side of a fresh websocket connection.
func upgradedConn(t *testing.T) *websocket.Conn {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	select {
	case conn := <-conns:
		return conn
	case <-time.After(time.Second):
		t.Fatal("websocket upgrade timed out")
		return nil
	}
}

func TestClient_SubscribeAfterCloseReleasesImmediately(t *testing.T) {
	_, w := newTestServer(t)
	cl := newClient(upgradedConn(t), w.Balances())
	key := models.SubscriptionKey{ChainID: 7, Address: account}

	cl.close()
	reply := cl.handle(inbound{Op: "subscribe", ID: "late", ChainID: 7, Account: account})
	require.NotNil(t, reply)
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, errClosed.Error(), reply.Error)
	assert.Equal(t, 0, w.Balances().Count(key))

	done := make(chan struct{})
	go func() {
		cl.close()
		_ = cl.handle(inbound{Op: "unsubscribe", ID: "late"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("client lock still held after subscribe on a closed client")
	}
}

func TestClient_ConcurrentCloseAndSubscribe(t *testing.T) {
	_, w := newTestServer(t)
	cl := newClient(upgradedConn(t), w.Balances())
	key := models.SubscriptionKey{ChainID: 7, Address: account}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			cl.handle(inbound{Op: "subscribe", ID: "a", ChainID: 7, Account: account})
		}
	}()
	cl.close()
	<-done

	assert.Equal(t, 0, w.Balances().Count(key))
}

func TestHandleWS_RejectsUnknownChain(t *testing.T) {
	s, w := newTestServer(t)
	ws, closeAll := dialWS(t, s)
	defer closeAll()

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"op": "subscribe", "id": "x", "chain_id": 99, "account": account}))
	msg := readType(t, ws)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "unknown chain", msg["error"])
	assert.Empty(t, w.Balances().ActiveKeys(99))
}
