package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/hongbao/internal/config"
	"github.com/smallbiznis/hongbao/internal/events"
	"github.com/smallbiznis/hongbao/internal/invite"
	invitedomain "github.com/smallbiznis/hongbao/internal/invite/domain"
	"github.com/smallbiznis/hongbao/internal/ledger"
	ledgerdomain "github.com/smallbiznis/hongbao/internal/ledger/domain"
	"github.com/smallbiznis/hongbao/internal/notify"
	obsmetrics "github.com/smallbiznis/hongbao/internal/observability/metrics"
	"github.com/smallbiznis/hongbao/internal/packet"
	packetdomain "github.com/smallbiznis/hongbao/internal/packet/domain"
	"github.com/smallbiznis/hongbao/internal/ratelimit"
	"github.com/smallbiznis/hongbao/internal/reaper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	events.Module,
	ledger.Module,
	packet.Module,
	invite.Module,
	notify.Module,
	obsmetrics.Module,
	ratelimit.Module,
	reaper.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config) *gin.Engine {
	return NewEngine(cfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	packetSvc packetdomain.Service
	ledgerSvc ledgerdomain.Service
	inviteSvc invitedomain.Service
	genID     *snowflake.Node
	log       *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	PacketSvc packetdomain.Service
	LedgerSvc ledgerdomain.Service
	InviteSvc invitedomain.Service
	GenID     *snowflake.Node
	Log       *zap.Logger
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		packetSvc: p.PacketSvc,
		ledgerSvc: p.LedgerSvc,
		inviteSvc: p.InviteSvc,
		genID:     p.GenID,
		log:       p.Log.Named("http.server"),
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	// -------- Packets --------
	v1.POST("/packets", s.CreatePacket)
	v1.GET("/packets/:id", s.GetPacket)
	v1.POST("/packets/:id/claims", s.ClaimPacket)
	v1.GET("/packets/:id/claims", s.ListPacketClaims)

	// -------- Accounts --------
	v1.GET("/accounts/:user_id/balance", s.GetBalance)
	v1.GET("/accounts/:user_id/entries", s.ListEntries)

	// -------- Invites --------
	v1.POST("/invites", s.BindInvite)

	if s.cfg.Environment != "production" {
		v1.POST("/accounts/:user_id/deposits", s.Deposit)
	}
}
