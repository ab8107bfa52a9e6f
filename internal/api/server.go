package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sacredlobby/sacredlobby/internal/config"
	"github.com/sacredlobby/sacredlobby/internal/db"
	"github.com/sacredlobby/sacredlobby/internal/events"
	"github.com/sacredlobby/sacredlobby/internal/lobby"
	intnet "github.com/sacredlobby/sacredlobby/internal/network"
	"github.com/sacredlobby/sacredlobby/internal/protocol"
	"github.com/sacredlobby/sacredlobby/internal/stats"
)

// LobbyView is the read side of the session registry.
type LobbyView interface {
	Clients() []lobby.ClientInfo
	Users() []lobby.ClientInfo
	Servers() []protocol.ServerInfo
}

// AccountReader is the read side of the account store.
type AccountReader interface {
	FindAccountByName(name string) (*db.Account, error)
	ListSaveSlots(id int64) ([]db.SaveSlot, error)
	CountAccounts() (int, error)
}

// Deps are the components the API reports on. Accounts, Bus and Resolver
// may be nil.
type Deps struct {
	Lobby    LobbyView
	Accounts AccountReader
	Stats    *stats.Collector
	Bus      *events.EventBus
	Resolver lobby.IPResolver
	Version  string
}

// Server is the read-only admin HTTP API.
type Server struct {
	cfg        config.APIConfig
	deps       Deps
	instanceID string
	startedAt  time.Time

	router     *gin.Engine
	stream     *streamHub
	httpServer *http.Server
}

// NewServer creates the API server and its routes.
func NewServer(cfg config.APIConfig, deps Deps, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:        cfg,
		deps:       deps,
		instanceID: uuid.NewString(),
		startedAt:  time.Now(),
		stream:     newStreamHub(deps.Bus, cfg.AllowedOrigins),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// InstanceID identifies this lobby process.
func (s *Server) InstanceID() string {
	return s.instanceID
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("admin API server starting")

	go func() {
		<-ctx.Done()
		s.stream.close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(s.cfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	protected := router.Group("/api")
	protected.Use(TokenAuth(s.cfg.Token))
	{
		protected.GET("/stats", s.handleStats)
		protected.GET("/system", s.handleSystem)
		protected.GET("/clients", s.handleClients)
		protected.GET("/users", s.handleUsers)
		protected.GET("/servers", s.handleServers)
		protected.GET("/accounts/:name", s.handleAccount)
		protected.GET("/events", s.stream.handle)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop shuts the HTTP server down.
func (s *Server) Stop() error {
	s.stream.close()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
