// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bandit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AdPulse/pkg/logging"
)

// ServiceVersion is the bandit service version.
const ServiceVersion = "0.1.0"

// Handlers contains the HTTP handlers for the bandit service.
type Handlers struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

// HandleRegisterCreative handles POST /v1/bandit/creatives.
//
// Response:
//
//	200 OK: RegisterCreativeResponse
//	400 Bad Request: Validation error
//	409 Conflict: Creative bound to a different pattern
func (h *Handlers) HandleRegisterCreative(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleRegisterCreative")

	var req RegisterCreativeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	uploadedAt := time.Time{}
	if req.UploadedAt != nil {
		uploadedAt = *req.UploadedAt
	}

	creative, err := h.svc.RegisterCreative(c.Request.Context(), req.CreativeID, req.PatternID, uploadedAt)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, RegisterCreativeResponse{Creative: creative})
}

// HandleRecordMetrics handles POST /v1/bandit/metrics.
//
// Response:
//
//	200 OK: RecordMetricsResponse
//	400 Bad Request: Negative, inconsistent, or regressing counts
//	404 Not Found: Unknown creative
//	504 Gateway Timeout: Store deadline exceeded (retryable)
func (h *Handlers) HandleRecordMetrics(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleRecordMetrics")

	var req RecordMetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	resp, err := h.svc.RecordMetrics(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleAnalyze handles POST /v1/bandit/signals/analyze.
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleAnalyze")

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	result, err := h.svc.AnalyzeEarlySignal(c.Request.Context(), req.CreativeID)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleBulkAnalyze handles POST /v1/bandit/signals/bulk.
//
// Always 200 when the request binds: per-item failures ride in the
// item's error field, never as a whole-batch status.
func (h *Handlers) HandleBulkAnalyze(c *gin.Context) {
	getOrCreateRequestID(c)

	var req BulkAnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	c.JSON(http.StatusOK, h.svc.BulkAnalyzeEarlySignal(c.Request.Context(), req.CreativeIDs))
}

// HandleTopPatterns handles GET /v1/bandit/patterns/top?n=&min_pulls=.
func (h *Handlers) HandleTopPatterns(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleTopPatterns")

	n, err := strconv.Atoi(c.DefaultQuery("n", "10"))
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "n must be a positive integer", Code: "INVALID_REQUEST"})
		return
	}
	minPulls, err := strconv.ParseInt(c.DefaultQuery("min_pulls", "0"), 10, 64)
	if err != nil || minPulls < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "min_pulls must be a non-negative integer", Code: "INVALID_REQUEST"})
		return
	}

	patterns, err := h.svc.GetTopPatterns(c.Request.Context(), n, minPulls)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, TopPatternsResponse{Patterns: patterns})
}

// HandleSelectPatterns handles POST /v1/bandit/patterns/select.
func (h *Handlers) HandleSelectPatterns(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleSelectPatterns")

	var req SelectPatternsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	ranked, err := h.svc.RecommendNextPatterns(c.Request.Context(), req.Candidates, req.K, req.Seed)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, SelectPatternsResponse{Ranked: ranked})
}

// HandleRecommendScaling handles POST /v1/bandit/recommendations.
func (h *Handlers) HandleRecommendScaling(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleRecommendScaling")

	var req RecommendScalingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	rec, err := h.svc.RecommendScaling(c.Request.Context(), req.PatternID, req.CreativeID)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, RecommendScalingResponse{Recommendation: rec})
}

// HandleTrain handles POST /v1/bandit/train.
func (h *Handlers) HandleTrain(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleTrain")

	summary, err := h.svc.Train(c.Request.Context())
	if err != nil {
		h.respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// HandleReconfigure handles POST /v1/bandit/reconfigure.
//
// The body is a full Config; partial patches are not supported. A
// rejected configuration leaves the running set untouched.
func (h *Handlers) HandleReconfigure(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleReconfigure")

	var cfg Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	if err := h.svc.Reconfigure(c.Request.Context(), cfg); err != nil {
		h.respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reconfigured"})
}

// HandleHealth handles GET /v1/bandit/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": ServiceVersion})
}

// HandleReady handles GET /v1/bandit/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	if err := h.svc.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "NOT_READY"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// respondError maps service errors onto HTTP statuses.
func (h *Handlers) respondError(c *gin.Context, logger *logging.Logger, err error) {
	statusCode := http.StatusInternalServerError
	code := "INTERNAL_ERROR"

	switch {
	case IsNotFound(err):
		statusCode = http.StatusNotFound
		code = "NOT_FOUND"
	case IsInvalidMetric(err):
		statusCode = http.StatusBadRequest
		code = "INVALID_METRIC"
	case IsTimeout(err):
		statusCode = http.StatusGatewayTimeout
		code = "TIMEOUT"
	case isConflict(err):
		statusCode = http.StatusConflict
		code = "CONFLICT"
	case isConfigInvalid(err):
		statusCode = http.StatusBadRequest
		code = "INVALID_CONFIG"
	}

	if statusCode >= 500 {
		logger.Error("request failed", "error", err)
	} else {
		logger.Warn("request rejected", "error", err, "code", code)
	}

	c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: code})
}

// getOrCreateRequestID returns the inbound request id, minting one
// when the caller sent none, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
