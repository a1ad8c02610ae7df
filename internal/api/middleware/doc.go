// Package middleware provides HTTP middleware for the Gin router:
// CORS for browser clients and per-IP rate limiting.
package middleware
