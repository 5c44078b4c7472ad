package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// segmentd is a stand-in segment resolver for local development and
// load testing: it fabricates a stable audience per segment id instead
// of querying a real customer database.

// ResolveRequest mirrors the dispatcher's resolver client contract.
type ResolveRequest struct {
	SegmentIDs    []string               `json:"segment_ids"`
	CustomFilters map[string]interface{} `json:"custom_filters"`
	Operator      string                 `json:"operator"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
}

type Recipient struct {
	Name    string                 `json:"name"`
	Email   string                 `json:"email"`
	Profile map[string]interface{} `json:"profile,omitempty"`
}

type ResolveResponse struct {
	Recipients []Recipient `json:"recipients"`
	Total      int         `json:"total"`
}

type HealthResponse struct {
	Status     string    `json:"status"`
	ResolverID string    `json:"resolver_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// MockResolver fabricates deterministic audiences: the same segment id
// always yields the same recipients, so repeated campaign runs during
// testing behave consistently.
type MockResolver struct {
	resolverID  string
	segmentSize int
	minDelay    time.Duration
	maxDelay    time.Duration
	rng         *rand.Rand
}

func NewMockResolver(segmentSize int, minDelay, maxDelay time.Duration) *MockResolver {
	return &MockResolver{
		resolverID:  "MOCK_RESOLVER_" + uuid.New().String()[:8],
		segmentSize: segmentSize,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockResolver) resolve(req *ResolveRequest) *ResolveResponse {
	// Simulate lookup latency
	time.Sleep(m.randomDelay())

	seen := make(map[string]bool)
	var recipients []Recipient

	for _, segmentID := range req.SegmentIDs {
		// Deterministic per segment: seed from the segment id
		seed := int64(0)
		for _, r := range segmentID {
			seed = seed*31 + int64(r)
		}
		segRng := rand.New(rand.NewSource(seed))

		for i := 0; i < m.segmentSize; i++ {
			email := fmt.Sprintf("%s.user%d@example.com", sanitize(segmentID), i)
			if seen[email] {
				continue
			}
			seen[email] = true
			recipients = append(recipients, Recipient{
				Name:  fmt.Sprintf("User %d (%s)", i, segmentID),
				Email: email,
				Profile: map[string]interface{}{
					"segment":       segmentID,
					"totalSpent":    segRng.Intn(10_000),
					"purchaseCount": segRng.Intn(50),
				},
			})
		}
	}

	total := len(recipients)

	// Apply offset/limit the way a real resolver would paginate
	if req.Offset > 0 {
		if req.Offset >= len(recipients) {
			recipients = nil
		} else {
			recipients = recipients[req.Offset:]
		}
	}
	if req.Limit > 0 && req.Limit < len(recipients) {
		recipients = recipients[:req.Limit]
	}

	return &ResolveResponse{Recipients: recipients, Total: total}
}

func (m *MockResolver) randomDelay() time.Duration {
	if m.maxDelay <= m.minDelay {
		return m.minDelay
	}
	delta := m.maxDelay - m.minDelay
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
}

type Handler struct {
	resolver *MockResolver
}

func NewHandler(resolver *MockResolver) *Handler {
	return &Handler{resolver: resolver}
}

func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if len(req.SegmentIDs) == 0 && len(req.CustomFilters) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "segment_ids or custom_filters are required",
		})
		return
	}

	log.Info().
		Strs("segment_ids", req.SegmentIDs).
		Str("operator", req.Operator).
		Int("limit", req.Limit).
		Msg("Received resolve request")

	response := h.resolver.resolve(&req)

	log.Info().
		Int("total", response.Total).
		Int("returned", len(response.Recipients)).
		Msg("Audience resolved")

	c.JSON(http.StatusOK, response)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		ResolverID: h.resolver.resolverID,
		Timestamp:  time.Now(),
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	// Add request logging middleware
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/segments/resolve", handler.Resolve)
		v1.GET("/health", handler.HealthCheck)
	}

	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8082")
	segmentSize := getEnvInt("SEGMENT_SIZE", 120)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 300*time.Millisecond)

	log.Info().
		Str("port", port).
		Int("segment_size", segmentSize).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting Mock Segment Resolver")

	resolver := NewMockResolver(segmentSize, minDelay, maxDelay)
	handler := NewHandler(resolver)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
