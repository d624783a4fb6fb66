// Package http carries the protocol's HTTP glue: the facilitator service,
// a client for remote facilitators, and payment header handling for
// resource access over plain HTTP.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	x402 "github.com/open-aibank/x402-tron"
	"github.com/open-aibank/x402-tron/metrics"
)

// FacilitatorService exposes a facilitator over HTTP. Protocol failures are
// data: they come back as 200 responses with isValid:false or success:false.
// Only infrastructure problems produce 5xx.
type FacilitatorService struct {
	facilitator *x402.X402Facilitator
	recorder    metrics.Recorder
	metricsPage http.Handler
	logger      *zap.Logger
}

// ServiceOption configures the service.
type ServiceOption func(*FacilitatorService)

// WithServiceLogger sets the structured logger.
func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(s *FacilitatorService) {
		s.logger = logger
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder metrics.Recorder) ServiceOption {
	return func(s *FacilitatorService) {
		s.recorder = recorder
		if p, ok := recorder.(*metrics.Prometheus); ok {
			s.metricsPage = p.Handler()
		}
	}
}

// NewFacilitatorService wraps a facilitator into an HTTP service.
func NewFacilitatorService(facilitator *x402.X402Facilitator, opts ...ServiceOption) *FacilitatorService {
	s := &FacilitatorService{
		facilitator: facilitator,
		recorder:    metrics.Noop{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with all routes attached.
func (s *FacilitatorService) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/verify", s.handleVerify)
	router.POST("/settle", s.handleSettle)
	router.POST("/payment-flow", s.handlePaymentFlow)
	router.POST("/fee-quote", s.handleFeeQuote)
	router.GET("/health", s.handleHealth)
	router.GET("/supported", s.handleSupported)
	router.GET("/", s.handleSupported)
	if s.metricsPage != nil {
		router.GET("/metrics", gin.WrapH(s.metricsPage))
	}

	return router
}

// Run serves the router until the listener fails.
func (s *FacilitatorService) Run(addr string) error {
	return s.Router().Run(addr)
}

func (s *FacilitatorService) handleVerify(c *gin.Context) {
	var req x402.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.facilitator.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.fail(c, err, "verify")
		return
	}

	s.recorder.RecordVerify(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, resp.IsValid)
	c.JSON(http.StatusOK, resp)
}

func (s *FacilitatorService) handleSettle(c *gin.Context) {
	var req x402.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	started := time.Now()
	resp, err := s.facilitator.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.fail(c, err, "settle")
		return
	}

	s.recorder.RecordSettle(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, resp.Success, time.Since(started))
	c.JSON(http.StatusOK, resp)
}

// paymentFlowResponse is the combined verify-then-settle result. Step names
// the stage that produced the outcome.
type paymentFlowResponse struct {
	Success     bool   `json:"success"`
	Step        string `json:"step"`
	Transaction string `json:"transaction,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *FacilitatorService) handlePaymentFlow(c *gin.Context) {
	var req x402.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verifyResp, err := s.facilitator.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.fail(c, err, "payment-flow verify")
		return
	}
	s.recorder.RecordVerify(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, verifyResp.IsValid)
	if !verifyResp.IsValid {
		c.JSON(http.StatusOK, paymentFlowResponse{
			Success: false,
			Step:    "verify",
			Error:   verifyResp.InvalidReason,
		})
		return
	}

	started := time.Now()
	settleResp, err := s.facilitator.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.fail(c, err, "payment-flow settle")
		return
	}
	s.recorder.RecordSettle(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, settleResp.Success, time.Since(started))

	if !settleResp.Success {
		c.JSON(http.StatusOK, paymentFlowResponse{
			Success: false,
			Step:    "settle",
			Error:   settleResp.ErrorReason,
		})
		return
	}
	c.JSON(http.StatusOK, paymentFlowResponse{
		Success:     true,
		Step:        "settle",
		Transaction: settleResp.Transaction,
	})
}

func (s *FacilitatorService) handleFeeQuote(c *gin.Context) {
	var requirements x402.PaymentRequirements
	if err := c.ShouldBindJSON(&requirements); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quote, err := s.facilitator.FeeQuote(c.Request.Context(), requirements)
	if err != nil {
		s.fail(c, err, "fee-quote")
		return
	}

	s.recorder.RecordFeeQuote(requirements.Network, requirements.Scheme)
	c.JSON(http.StatusOK, quote)
}

func (s *FacilitatorService) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *FacilitatorService) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, s.facilitator.GetSupported())
}

// fail maps a facilitator error onto a status code: asking for an
// unregistered scheme is the caller's mistake, everything else is an
// infrastructure failure.
func (s *FacilitatorService) fail(c *gin.Context, err error, operation string) {
	if errors.Is(err, x402.ErrUnsupportedScheme) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.logger.Error("request failed",
		zap.String("operation", operation),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
