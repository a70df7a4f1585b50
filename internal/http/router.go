// Package httpapi wires the Gin transport to the messaging services,
// middleware and handlers, and mounts the real-time handshake next to the
// REST surface.
//
// Middleware runs in this order:
//  1. OpenTelemetry
//  2. RequestID and caller identity
//  3. RedactingLogger
//  4. Recovery
//  5. Body size limit and gzip
//  6. Metrics
//  7. Idempotency validator (before the limiter so replays bypass it)
//  8. Rate limiter keyed by identity or IP
//  9. CORS and security headers
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-realtime-chat/docs"
	"github.com/tbourn/go-realtime-chat/internal/config"
	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/http/handlers"
	"github.com/tbourn/go-realtime-chat/internal/http/middleware"
	"github.com/tbourn/go-realtime-chat/internal/realtime"
	"github.com/tbourn/go-realtime-chat/internal/repo"
	"github.com/tbourn/go-realtime-chat/internal/services"
	"github.com/tbourn/go-realtime-chat/internal/subscription"
)

// conversationRepoShim satisfies services.ConversationRepo with the repo
// package functions.
type conversationRepoShim struct{}

func (conversationRepoShim) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

func (conversationRepoShim) CreateConversation(ctx context.Context, db *gorm.DB, a, b string) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, a, b)
}

func (conversationRepoShim) FindConversationByPair(ctx context.Context, db *gorm.DB, a, b string) (*domain.Conversation, error) {
	return repo.FindConversationByPair(ctx, db, a, b)
}

func (conversationRepoShim) GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	return repo.GetConversation(ctx, db, id)
}

func (conversationRepoShim) CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountConversations(ctx, db, userID)
}

func (conversationRepoShim) ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	return repo.ListConversationsPage(ctx, db, userID, offset, limit)
}

// Services is the application layer shared by the router and the
// background sweeper.
type Services struct {
	Users         *services.UserService
	Conversations *services.ConversationService
	Messages      *services.MessageService
	Subscriptions *services.SubscriptionService
	Admission     *services.AdmissionController
	Authorizer    *realtime.Authorizer
}

// BuildServices wires the services over db. hub receives committed events;
// verifier may be nil when no purchase verification service is configured.
func BuildServices(db *gorm.DB, hub *realtime.Hub, verifier subscription.Verifier, cfg config.Config) *Services {
	adm := services.NewAdmissionController(db, cfg.Quota.FreeDailyMessages, cfg.Quota.Location)

	msgs := services.NewMessageService(db, adm, hub)
	if cfg.MaxContentRunes > 0 {
		msgs.MaxContentRunes = cfg.MaxContentRunes
	}
	msgs.SearchMinScore = cfg.SearchMinScore

	return &Services{
		Users:         services.NewUserService(db),
		Conversations: services.NewConversationService(db, conversationRepoShim{}),
		Messages:      msgs,
		Subscriptions: services.NewSubscriptionService(db, verifier, adm),
		Admission:     adm,
		Authorizer:    realtime.NewAuthorizer(db, cfg.Realtime.AuthTimeout),
	}
}

// RegisterRoutes attaches middleware and endpoints to r. The REST API lives
// under cfg.APIBasePath; /ws, /health and /metrics stay at the root.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, svc *Services, hub *realtime.Hub, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Identity())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws", "/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, conversationID, key string, now time.Time) (bool, error) {
			_, err := repo.GetIdempotency(ctx, db, userID, conversationID, key, now)
			switch {
			case err == nil:
				return true, nil
			case errors.Is(err, repo.ErrNotFound):
				return false, nil
			}
			return false, err
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIdentityOrIP())
	r.Use(rl.Handler())

	useCORS(r, cfg.CORS.AllowedOrigins)

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	rt := handlers.NewRealtimeHandler(svc.Authorizer, hub)
	r.GET("/ws", rt.Connect)

	h := handlers.New(svc.Users, svc.Conversations, svc.Messages, svc.Subscriptions)
	if cfg.IdempotencyTTL > 0 {
		h.IdempotencyTTL = cfg.IdempotencyTTL
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.POST("/users", h.Register)

	authed := api.Group("", middleware.RequireIdentity())
	{
		authed.GET("/users/me", h.Me)
		authed.GET("/users/me/subscription", h.GetSubscription)
		authed.POST("/users/me/subscription", h.ApplySubscription)

		authed.POST("/conversations", h.OpenConversation)
		authed.GET("/conversations", h.ListConversations)
		authed.GET("/conversations/:id", h.GetConversation)
		authed.GET("/conversations/:id/messages", h.ListMessages)
		authed.POST("/conversations/:id/messages", h.SendMessage)
		authed.GET("/conversations/:id/messages/search", h.SearchMessages)

		authed.POST("/messages/:id/read", h.MarkRead)
	}
}

var (
	corsMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderUserID, middleware.HeaderIdempotencyKey}
	corsExpose  = []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Idempotency-Replayed"}
)

// useCORS allows every origin when the allowlist is empty, otherwise echoes
// only listed origins.
func useCORS(r *gin.Engine, origins []string) {
	if len(origins) == 0 {
		// ACAO is forced even without an Origin header so plain probes see it.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    corsMethods,
			AllowHeaders:    corsHeaders,
			ExposeHeaders:   corsExpose,
			MaxAge:          12 * time.Hour,
		}))
		return
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  corsMethods,
		AllowHeaders:  corsHeaders,
		ExposeHeaders: corsExpose,
		MaxAge:        12 * time.Hour,
	}))
}

// limitBody caps request bodies at maxBytes; larger bodies fail on read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
