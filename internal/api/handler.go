package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/events"
	"execution-core/internal/market"
	"execution-core/internal/monitor"
	"execution-core/internal/portfolio"
	"execution-core/internal/risk"
	"execution-core/internal/schedule"
	"execution-core/pkg/db"
)

// Server wires the HTTP command surface around the execution core.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Ledger    *portfolio.Ledger
	Validator *risk.Validator
	Gateway   market.Gateway
	Scheduler *schedule.Scheduler
	Calendar  *schedule.Calendar
	Metrics   *monitor.SystemMetrics
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	Symbols          []string
	DefaultPortfolio string
	Version          string
}

func NewServer(bus *events.Bus, database *db.Database, ledger *portfolio.Ledger, validator *risk.Validator, gw market.Gateway, sched *schedule.Scheduler, cal *schedule.Calendar, metrics *monitor.SystemMetrics, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		Ledger:    ledger,
		Validator: validator,
		Gateway:   gw,
		Scheduler: sched,
		Calendar:  cal,
		Metrics:   metrics,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		api.POST("/orders", s.createOrder)
		api.GET("/orders", s.listOrders)
		api.GET("/orders/:id", s.getOrder)
		api.POST("/orders/:id/cancel", s.cancelOrder)

		api.GET("/portfolios/:id", s.getPortfolio)
		api.GET("/portfolios/:id/trades", s.getTrades)
		api.GET("/portfolios/:id/summary", s.getSummary)

		lifecycle := api.Group("/lifecycle")
		{
			lifecycle.POST("/open", s.runOpen)
			lifecycle.POST("/close", s.runClose)
			lifecycle.POST("/eod", s.runEndOfDay)
			lifecycle.POST("/hourly", s.runHourly)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
