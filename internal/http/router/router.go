package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"basegraph.app/postprocess/internal/http/handler"
)

type RouterConfig struct {
	Checks       []handler.Check
	HealthTimeout time.Duration
	Gatherer     prometheus.Gatherer
}

// SetupRoutes mounts the worker's operational endpoints.
func SetupRoutes(router *gin.Engine, cfg RouterConfig) {
	health := handler.NewHealthHandler(cfg.Checks, cfg.HealthTimeout)
	router.GET("/health", health.Health)

	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
}
