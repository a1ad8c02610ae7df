/*
Package monitoring provides Prometheus metrics collection.

# Overview

This package tracks HTTP requests, WebSocket connections, terminal pool
occupancy, the voice synthesis queue, and lesson run outcomes.

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record run outcomes
	metrics.LessonStarted()
	metrics.Validation(true)

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
