// Package rest is the worker's HTTP surface: a gin engine whose API routes
// run the request pipeline (id decryption, authentication, authorization,
// schema validation) and whose responses are checked against their own
// schema and have their ids encrypted before they are written.
package rest

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/dmitrijs2005/clusterapi/internal/common"
	"github.com/dmitrijs2005/clusterapi/internal/logging"
	"github.com/dmitrijs2005/clusterapi/internal/server/config"
	"github.com/dmitrijs2005/clusterapi/internal/server/models"
	"github.com/dmitrijs2005/clusterapi/internal/server/services"
	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// UserService is what the handlers need from the business layer.
type UserService interface {
	Register(ctx context.Context, in services.RegisterInput, actor *models.Credential) (*services.AuthResult, error)
	Login(ctx context.Context, email, password string) (*services.AuthResult, error)
	Refresh(ctx context.Context, token string) (string, error)
	List(ctx context.Context) ([]*models.User, error)
	Get(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, id string, in services.UpdateInput, actor *models.Credential) (*models.User, error)
	Delete(ctx context.Context, id string) error
}

// Options wires a Server. Zap, Counters, Registry and Health are optional.
type Options struct {
	Config   *config.Config
	Users    UserService
	Tokens   Verifier
	Codec    IDCodec
	Logger   logging.Logger
	Zap      *zap.Logger
	Counters *Counters
	Registry *prometheus.Registry
	Health   healthcheck.Handler
	WorkerID int
	PID      int
}

type Server struct {
	cfg      *config.Config
	users    UserService
	tokens   Verifier
	codec    IDCodec
	logger   logging.Logger
	validate *validator.Validate
	counters *Counters
	workerID int
	pid      int
	started  time.Time

	engine *gin.Engine
}

func NewServer(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		users:    opts.Users,
		tokens:   opts.Tokens,
		codec:    opts.Codec,
		logger:   opts.Logger.With("module", "rest"),
		validate: newValidator(),
		counters: opts.Counters,
		workerID: opts.WorkerID,
		pid:      opts.PID,
		started:  time.Now(),
	}
	if s.counters == nil {
		s.counters = &Counters{}
	}

	zl := opts.Zap
	if zl == nil {
		zl = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	if s.cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	_ = r.SetTrustedProxies(nil)

	r.Use(ginzap.CustomRecoveryWithZap(zl, true, func(c *gin.Context, _ any) {
		s.writeError(c, common.ErrorInternal)
	}))
	r.Use(withRequestID())
	r.Use(ginzap.Ginzap(zl, time.RFC3339, true))
	r.Use(countRequests(s.counters, newHTTPMetrics(reg)))
	r.Use(securityHeaders(!s.cfg.IsDevelopment()))

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	if opts.Health != nil {
		r.GET("/live", gin.WrapF(opts.Health.LiveEndpoint))
		r.GET("/ready", gin.WrapF(opts.Health.ReadyEndpoint))
	}

	api := r.Group(s.cfg.APIPrefix, compress(http.MethodDelete, http.MethodHead), s.respond())
	if s.cfg.RateLimit > 0 && s.cfg.RateLimitWindow > 0 {
		api.Use(newRateLimiter(s.cfg.RateLimit, s.cfg.RateLimitWindow).middleware())
	}
	s.routes(api)

	r.NoRoute(func(c *gin.Context) { s.writeError(c, errNoRoute) })

	s.engine = r
	return s
}

func (s *Server) routes(api *gin.RouterGroup) {
	api.GET("/health", s.health)

	auth := api.Group("/auth", s.decryptIDs())
	auth.POST("/register", s.optionalAuthenticate(), bindJSON[registerRequest](s), s.register)
	auth.POST("/login", bindJSON[loginRequest](s), s.login)
	auth.POST("/logout", s.authenticate(), s.logout)
	auth.POST("/refresh", s.authenticate(), s.refresh)
	auth.GET("/me", s.authenticate(), s.me)

	users := api.Group("/users", s.decryptIDs(), s.authenticate())
	users.GET("", authorize(models.RoleAdmin), s.listUsers)
	users.GET("/:id", ownerOrAdmin(), s.getUser)
	users.PUT("/:id", ownerOrAdmin(), bindJSON[updateUserRequest](s), s.updateUser)
	users.DELETE("/:id", authorize(models.RoleAdmin), s.deleteUser)
}

// compress gzips API responses except for the methods listed, whose
// responses carry no body.
func compress(skip ...string) gin.HandlerFunc {
	gz := gzip.Gzip(gzip.DefaultCompression)
	return func(c *gin.Context) {
		if slices.Contains(skip, c.Request.Method) {
			c.Next()
			return
		}
		gz(c)
	}
}

// Handler returns the engine as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}
