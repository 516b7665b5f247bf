package main

import (
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradebus/api/responses"
	"github.com/Aidin1998/tradebus/internal/store"
)

// newServer serves metrics, health and read-only views of the ingested data for
// operators checking what the engine has persisted.
func newServer(addr string, st *store.Store, logger *zap.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           newRouter(st, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newRouter(st *store.Store, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.CustomRecoveryWithZap(logger, true, responses.Recover))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/v1/health", func(c *gin.Context) {
		if err := st.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now()})
	})

	v1 := router.Group("/api/v1")
	v1.GET("/markets/:id", func(c *gin.Context) {
		market, err := st.GetMarket(c.Request.Context(), c.Param("id"))
		if !writeLookupError(c, logger, err) {
			responses.Success(c, market, "")
		}
	})
	v1.GET("/markets/:id/timeline", func(c *gin.Context) {
		points, err := st.Timeline(c.Request.Context(), c.Param("id"))
		if !writeLookupError(c, logger, err) {
			responses.Success(c, points, "")
		}
	})
	v1.GET("/activities", func(c *gin.Context) {
		activities, err := st.Activities(c.Request.Context(), c.Query("marketId"))
		if !writeLookupError(c, logger, err) {
			responses.Success(c, activities, "")
		}
	})
	v1.GET("/orders/:id", func(c *gin.Context) {
		order, err := st.GetOrder(c.Request.Context(), c.Param("id"))
		if !writeLookupError(c, logger, err) {
			responses.Success(c, order, "")
		}
	})
	return router
}

// writeLookupError renders err and reports whether it did.
func writeLookupError(c *gin.Context, logger *zap.Logger, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrMarketNotFound), errors.Is(err, store.ErrOrderNotFound):
		responses.NotFound(c, err.Error())
	default:
		logger.Error("Store query failed", zap.String("path", c.FullPath()), zap.Error(err))
		responses.InternalError(c, "store query failed")
	}
	return true
}
