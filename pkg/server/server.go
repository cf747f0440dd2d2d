package server

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"walletsync/pkg/models"
	"walletsync/pkg/wallet"
	"walletsync/pkg/watcher"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

type Server struct {
	watcher *watcher.Watcher
	logger  *zap.Logger
	clients map[*client]bool
	mu      sync.Mutex
	router  *gin.Engine
}

func NewServer(w *watcher.Watcher, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		watcher: w,
		logger:  logger.Named("server"),
		clients: make(map[*client]bool),
		router:  gin.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	s.router.Use(cors.New(corsConfig))
	s.router.Use(s.accessLog())
	s.router.Use(gin.Recovery())

	api := s.router.Group("/api", gzip.Gzip(gzip.DefaultCompression))
	api.GET("/status", s.handleStatus)
	api.GET("/prices", s.handlePrices)
	api.GET("/balances/:chain/:address", s.handleBalances)

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleWS)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	go s.listenToWatcher()

	s.logger.Info("API Server listening", zap.Int("port", port))
	return s.router.Run(fmt.Sprintf(":%d", port))
}

func (s *Server) snapshot() gin.H {
	active, _ := s.watcher.ActiveChain()
	heights := make(map[string]uint64)
	for id, h := range s.watcher.GetHeights() {
		heights[strconv.FormatInt(id, 10)] = h
	}
	return gin.H{
		"chain":    active,
		"heights":  heights,
		"accounts": s.watcher.GetAccounts(),
		"prices":   s.watcher.GetPrices(),
	}
}

func (s *Server) render(c *gin.Context, code int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(code, "application/json; charset=utf-8", body)
}

func (s *Server) handleStatus(c *gin.Context) {
	s.render(c, http.StatusOK, s.snapshot())
}

func (s *Server) handlePrices(c *gin.Context) {
	s.render(c, http.StatusOK, s.watcher.GetPrices())
}

type balancesResponse struct {
	ChainID int64                         `json:"chain_id"`
	Account string                        `json:"account"`
	Native  *big.Int                      `json:"native,omitempty"`
	Tokens  map[string]models.TokenAmount `json:"tokens"`
}

// handleBalances reads what is cached right now. It does not subscribe, so
// keys nobody watches are simply absent.
func (s *Server) handleBalances(c *gin.Context) {
	chainID, err := strconv.ParseInt(c.Param("chain"), 10, 64)
	if err != nil {
		s.render(c, http.StatusBadRequest, gin.H{"error": "invalid chain id"})
		return
	}
	account, err := wallet.ValidateAddress(c.Param("address"))
	if err != nil {
		s.render(c, http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	store := s.watcher.Balances()
	var tokens []string
	if q := c.Query("tokens"); q != "" {
		tokens = strings.Split(q, ",")
	} else {
		tokens = store.Tokens().Addresses(chainID)
	}

	resp := balancesResponse{
		ChainID: chainID,
		Account: account,
		Native:  store.ETHBalances(chainID, []string{account})[account],
	}
	if c.Query("wrapped_as_native") == "false" {
		resp.Tokens = store.TokenBalances(chainID, account, tokens)
	} else {
		resp.Tokens = store.TokenBalancesTreatingWrappedAsNative(chainID, account, tokens)
	}
	s.render(c, http.StatusOK, resp)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	cl := newClient(conn, s.watcher.Balances())
	defer cl.close()

	s.mu.Lock()
	s.clients[cl] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, cl)
		s.mu.Unlock()
	}()

	// Send initial state
	_ = cl.send(outbound{Type: "initial", Data: s.snapshot()})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = cl.send(outbound{Type: "error", Error: "malformed message"})
			continue
		}
		if reply := cl.handle(msg); reply != nil {
			_ = cl.send(*reply)
		}
	}
}

func (s *Server) listenToWatcher() {
	sub := s.watcher.Subscribe()
	defer s.watcher.Unsubscribe(sub)

	for event := range sub {
		s.broadcast(event)
	}
}

func (s *Server) broadcast(event watcher.Event) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for cl := range s.clients {
		clients = append(clients, cl)
	}
	s.mu.Unlock()

	msg := outbound{Type: string(event.Type), Data: event.Data}
	for _, cl := range clients {
		if err := cl.send(msg); err != nil {
			s.logger.Debug("Dropping websocket client", zap.Error(err))
			s.mu.Lock()
			delete(s.clients, cl)
			s.mu.Unlock()
			cl.close()
		}
	}
}
