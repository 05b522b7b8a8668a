package feed

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"curvewatch/internal/domain"
	"curvewatch/internal/observability"
	"curvewatch/internal/rpcpool"
	"curvewatch/internal/storage"
)

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// StatusSource reports tracked tokens, typically an *ingestion.Supervisor.
type StatusSource interface {
	Statuses() []domain.TokenStatus
}

// EndpointSource reports RPC endpoint health, typically an *rpcpool.Dispatcher.
type EndpointSource interface {
	States() []rpcpool.EndpointState
}

// ServerOptions contains configuration for creating a Server. Stores are
// optional; without them history is served from the hub's view.
type ServerOptions struct {
	Hub       *Hub
	Status    StatusSource
	Endpoints EndpointSource

	Markets   storage.TokenMarketStore
	Candles   storage.CandleStore
	Events    storage.TradeEventStore
	Positions storage.PositionStore
	Anomalies storage.AnomalyStore

	Debug  bool
	Logger *log.Logger
}

// Server exposes the hub over HTTP and websocket.
type Server struct {
	opts     ServerOptions
	engine   *gin.Engine
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewServer creates a server and registers its routes.
func NewServer(opts ServerOptions) *Server {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(HubOptions{Logger: logger})
	}

	s := &Server{
		opts:   opts,
		engine: gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.getHealth)
	s.engine.GET("/metrics", gin.WrapH(observability.Handler()))

	api := s.engine.Group("/api")
	api.GET("/status", s.getStatus)
	api.GET("/tokens", s.getTokens)
	api.GET("/tokens/:mint/candles", s.getCandles)
	api.GET("/tokens/:mint/trades", s.getTrades)
	api.GET("/tokens/:mint/positions", s.getPositions)

	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("[feed] Starting HTTP server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"subscribers": s.opts.Hub.Subscribers(),
		"tokens":      len(s.opts.Hub.Mints()),
	})
}

func (s *Server) statuses() []domain.TokenStatus {
	if s.opts.Status != nil {
		return s.opts.Status.Statuses()
	}
	return s.opts.Hub.Statuses()
}

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{
		"tokens":      s.statuses(),
		"subscribers": s.opts.Hub.Subscribers(),
	}
	if s.opts.Endpoints != nil {
		resp["endpoints"] = s.opts.Endpoints.States()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getTokens(c *gin.Context) {
	statuses := make(map[string]domain.TokenStatus)
	for _, st := range s.statuses() {
		statuses[st.Mint] = st
	}

	type tokenResponse struct {
		Market *domain.TokenMarket `json:"market,omitempty"`
		Status domain.TokenStatus  `json:"status"`
	}
	var out []tokenResponse
	if s.opts.Markets != nil {
		markets, err := s.opts.Markets.List(c.Request.Context())
		if err != nil {
			s.internalError(c, err)
			return
		}
		for _, m := range markets {
			st, ok := statuses[m.Mint]
			if !ok {
				st = domain.TokenStatus{Mint: m.Mint, State: domain.StateStopped}
			}
			out = append(out, tokenResponse{Market: m, Status: st})
		}
	} else {
		for _, st := range s.statuses() {
			out = append(out, tokenResponse{Status: st})
		}
	}
	if out == nil {
		out = []tokenResponse{}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getCandles(c *gin.Context) {
	mint := c.Param("mint")
	tf, err := domain.ParseTimeframe(c.DefaultQuery("timeframe", domain.Timeframe1m.Label))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.opts.Candles != nil {
		series, err := s.opts.Candles.GetSeries(c.Request.Context(), mint, tf.Label)
		if err != nil {
			s.internalError(c, err)
			return
		}
		out := make([]domain.Candle, 0, len(series))
		for _, cd := range series {
			out = append(out, *cd)
		}
		c.JSON(http.StatusOK, out)
		return
	}

	series, ok := s.opts.Hub.Candles(mint, tf.Label)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown token"})
		return
	}
	if series == nil {
		series = []domain.Candle{}
	}
	c.JSON(http.StatusOK, series)
}

func (s *Server) getTrades(c *gin.Context) {
	mint := c.Param("mint")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultRecentTrades)))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	if s.opts.Events != nil {
		events, err := s.opts.Events.GetByMint(c.Request.Context(), mint)
		if err != nil {
			s.internalError(c, err)
			return
		}
		out := make([]domain.TradeEvent, 0, len(events))
		for _, e := range events {
			out = append(out, *e)
		}
		c.JSON(http.StatusOK, tail(out, limit))
		return
	}

	trades, ok := s.opts.Hub.Trades(mint, limit)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown token"})
		return
	}
	if trades == nil {
		trades = []domain.TradeEvent{}
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) getPositions(c *gin.Context) {
	mint := c.Param("mint")
	resp := gin.H{}

	if s.opts.Positions != nil {
		positions, err := s.opts.Positions.GetByMint(c.Request.Context(), mint)
		if err != nil {
			s.internalError(c, err)
			return
		}
		out := make([]domain.Position, 0, len(positions))
		for _, p := range positions {
			out = append(out, *p)
		}
		resp["positions"] = out
	} else {
		positions, ok := s.opts.Hub.Positions(mint)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown token"})
			return
		}
		resp["positions"] = positions
	}

	if s.opts.Anomalies != nil {
		anomalies, err := s.opts.Anomalies.GetByMint(c.Request.Context(), mint)
		if err != nil {
			s.internalError(c, err)
			return
		}
		resp["anomalies"] = anomalies
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Printf("[feed] Error serving %s: %v", c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	mint := c.Query("mint")
	if mint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mint is required"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("[feed] Failed to upgrade websocket: %v", err)
		return
	}

	sub := s.opts.Hub.Subscribe(mint)
	go s.writePump(conn, sub)
	go s.readPump(conn, sub)
}

// readPump discards client frames and ends the subscription when the
// connection goes away.
func (s *Server) readPump(conn *websocket.Conn, sub *Subscription) {
	defer func() {
		s.opts.Hub.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Printf("[feed] WebSocket error on %s: %v", sub.Mint, err)
			}
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// dropped by the hub or unsubscribed
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Printf("[feed] Write error on %s: %v", sub.Mint, err)
				s.opts.Hub.Unsubscribe(sub)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.opts.Hub.Unsubscribe(sub)
				return
			}
		}
	}
}
