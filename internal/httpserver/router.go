package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"habitledger/internal/handler"
	"habitledger/pkg/logger"
	"habitledger/pkg/metrics"
	"habitledger/pkg/trace"
)

// Pinger 数据库就绪检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionChecker MQ 连接检查
type ConnectionChecker interface {
	IsConnected() bool
}

type Readiness struct {
	DB Pinger
	MQ ConnectionChecker
}

func NewRouter(habitHandler *handler.HabitHandler, ready Readiness, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(traceMiddleware())
	r.Use(requestLogger(log))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if ready.DB != nil {
			if err := ready.DB.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}
		if ready.MQ != nil && !ready.MQ.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	users := r.Group("/users/:user_id")
	{
		users.GET("/habits", habitHandler.ListHabits)
		users.POST("/habits", habitHandler.CreateHabit)
		users.PATCH("/habits/:habit_id", habitHandler.UpdateHabit)
		users.PUT("/habits/:habit_id/links", habitHandler.ReplaceLinks)
		users.POST("/habits/:habit_id/archive", habitHandler.ArchiveHabit)
		users.PUT("/habits/:habit_id/completions/:date", habitHandler.ToggleCompletion)
		users.PATCH("/habits/:habit_id/completions/:date/note", habitHandler.UpdateNote)
		users.PUT("/habits/:habit_id/skips/:date", habitHandler.SkipHabit)
		users.GET("/arrears", habitHandler.ListArrears)
		users.GET("/profile", habitHandler.GetProfile)
	}

	return r
}

// traceMiddleware 透传或生成 trace_id，并写回响应头
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := trace.WithContext(c.Request.Context(), c.GetHeader(trace.HeaderName))
		ctx, traceID := trace.Ensure(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName, traceID)
		c.Next()
	}
}

// 请求日志 + HTTP 延迟指标
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, route, strconv.Itoa(status), latency)

		if route == "/healthz" || route == "/metrics" {
			return
		}
		logger.WithTrace(c.Request.Context(), log).Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
