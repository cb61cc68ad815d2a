package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	lightningd "github.com/neverDefined/go-lightningd"
)

// statusSource is what the status server reports on.
type statusSource interface {
	summary() Summary
	healthy() error
}

func (n *network) healthy() error {
	var errs []error
	if err := n.btc.HealthCheck(); err != nil {
		errs = append(errs, fmt.Errorf("bitcoind: %w", err))
	}
	for i, ld := range n.nodes {
		if st := ld.State(); st != lightningd.StateRunning {
			errs = append(errs, fmt.Errorf("node%d is %s", i, st))
		}
	}
	return errors.Join(errs...)
}

// newRouter serves the network status. metrics may be nil.
func newRouter(src statusSource, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware("lnregtest"))

	r.GET("/healthz", func(c *gin.Context) {
		if err := src.healthy(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/nodes", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.summary())
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	return r
}
