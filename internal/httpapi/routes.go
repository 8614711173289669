package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	FeedbackRoutePath            = "/feedback"
	FeedbackItemRoutePath        = "/feedback/:id"
	FeedbackBatchDeleteRoutePath = "/feedback/batch-delete"
	FeedbackEventsRoutePath      = "/feedback/events"
	MetricsRoutePath             = "/metrics"
	HealthRoutePath              = "/healthz"

	corsOriginWildcard    = "*"
	corsHeaderContentType = "Content-Type"
)

var (
	corsAllowedMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsAllowedHeaders = []string{corsHeaderContentType, IdempotencyKeyHeader}
	corsExposedHeaders = []string{corsHeaderContentType, IdempotentReplayHeader}
)

// RouterConfig collects the dependencies of the feedback HTTP router.
type RouterConfig struct {
	Handlers    *FeedbackHandlers
	Metrics     *Metrics
	RateLimiter *ClientRateLimiter
	Logger      *zap.Logger
}

// NewRouter builds the gin engine serving the feedback API.
func NewRouter(configuration RouterConfig) *gin.Engine {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{corsOriginWildcard},
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handlers := configuration.Handlers
	router.POST(FeedbackRoutePath, configuration.RateLimiter.Middleware(), handlers.CreateFeedback)
	router.GET(FeedbackRoutePath, handlers.ListFeedback)
	router.DELETE(FeedbackItemRoutePath, handlers.DeleteFeedback)
	router.POST(FeedbackBatchDeleteRoutePath, handlers.BatchDeleteFeedback)
	router.GET(FeedbackEventsRoutePath, handlers.StreamFeedbackEvents)
	router.GET(HealthRoutePath, handlers.Health)
	if configuration.Metrics != nil {
		router.GET(MetricsRoutePath, configuration.Metrics.Handler())
	}

	return router
}
