package routes

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"murmur/config"
	"murmur/handlers"
	"murmur/middleware"
	"murmur/websocket"
)

// TokenAuthenticator validates gateway AUTH tokens with the same secret and
// claims as the REST API.
func TokenAuthenticator(secret string) websocket.Authenticator {
	return func(token string) (websocket.Identity, error) {
		claims, err := middleware.ParseToken(secret, token)
		if err != nil {
			return websocket.Identity{}, err
		}
		return websocket.Identity{UserID: claims.UserID, OrgID: claims.OrgID, Role: claims.Role}, nil
	}
}

func SetupRouter(h *handlers.Handler, manager *websocket.Manager, cfg *config.Config, gatherer prometheus.Gatherer, logger *slog.Logger) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"clients": manager.ConnectedClients(),
			"scope":   manager.Scope(),
			"time":    time.Now().Unix(),
		})
	}
	router.GET("/health", health)
	router.GET("/api/health", health)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Subscription happens over the socket with an AUTH message, so the
	// upgrade itself is not behind the JWT middleware.
	router.GET("/ws", gin.WrapF(websocket.Handler(manager)))

	limiter := middleware.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	api := router.Group("/api")
	api.Use(middleware.RateLimitMiddleware(limiter))
	api.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret, logger))
	h.Register(api)

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Endpoint not found",
				"path":  c.Request.URL.Path,
			})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	return router
}
