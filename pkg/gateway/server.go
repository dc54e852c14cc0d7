// Package gateway is the caller-facing HTTP server and pipeline orchestrator.
// For each incoming chat request it selects an upstream provider and model,
// applies the provider's request transformer, performs the upstream call
// through the retrying engine, and streams the translated response back.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"go.uber.org/zap"

	"ccrouter/pkg/config"
	"ccrouter/pkg/logger"
	"ccrouter/pkg/providers"
	"ccrouter/pkg/providers/engine"
	"ccrouter/pkg/providers/streaming"
	"ccrouter/pkg/version"
)

// Server is the router HTTP server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	config     *config.Config
	logger     *logger.Logger
	started    time.Time
}

// NewServer creates a new router server.
func NewServer(cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		config: cfg,
		logger: log,
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	e := echo.New()

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))

	e.GET("/health", func(c *echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/api/v1/status", s.handleStatus)

	v1 := e.Group("/v1")
	v1.Use(s.requireSharedSecret)
	v1.POST("/messages", s.handleMessages)

	s.echo = e
}

// Start starts the router server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.Info("Router server starting", zap.String("addr", addr))
	s.started = time.Now()

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Router server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the router server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Router server stopping")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// requireSharedSecret enforces the optional static shared secret on inbound
// requests, accepted as x-api-key or a bearer token.
func (s *Server) requireSharedSecret(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		secret := s.config.Server.APIKey
		if secret == "" {
			return next(c)
		}

		presented := c.Request().Header.Get("x-api-key")
		if presented == "" {
			presented = strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
		}
		return next(c)
	}
}

func (s *Server) handleStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"version":        version.Version,
		"uptime":         time.Since(s.started).String(),
		"provider_count": len(s.config.Providers),
		"transformers":   providers.List(),
	})
}

// handleMessages runs the translation pipeline for one chat request.
func (s *Server) handleMessages(c *echo.Context) error {
	requestID := uuid.NewString()
	log := s.logger.WithFields(zap.String("request_id", requestID))

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "reading request body"))
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", "request body is not valid JSON"))
	}

	tokenCount := estimateTokens(body)
	route, ok := selectRoute(s.config.RouterRules(), body, tokenCount)
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, errorBody("router_error", "no route configured: set router.default to \"provider,model\""))
	}

	providerCfg, found := s.config.Provider(route.Provider)
	if !found {
		providerCfg = config.ProviderConfig{Name: route.Provider}
	}
	transformerName := providerCfg.Transformer
	if transformerName == "" {
		transformerName = providerCfg.Name
	}

	transformer, err := providers.GetTransformer(transformerName)
	if err != nil {
		return c.JSON(http.StatusBadGateway, errorBody("router_error", err.Error()))
	}

	apiKey, err := resolveAPIKey(providerCfg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("config_error", err.Error()))
	}

	unified, err := transformer.TransformRequestOut(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
	}
	unified.Model = route.Model

	info := &providers.RelayInfo{
		RequestID:    requestID,
		ProviderName: route.Provider,
		APIKey:       apiKey,
		APIBase:      providerCfg.APIBase,
		Model:        route.Model,
		Stream:       unified.Stream,
	}

	payload, err := transformer.TransformRequestIn(unified, info)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
	}

	url, err := transformer.Endpoint(info)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
	}

	headers := map[string]string{}
	transformer.Auth(headers, info)

	log.Info("Relaying request",
		zap.String("provider", route.Provider),
		zap.String("model", route.Model),
		zap.Bool("stream", unified.Stream),
		zap.Int("prompt_tokens_estimate", tokenCount),
	)

	ctx := c.Request().Context()
	resp, err := engine.Send(ctx, url, payload, &engine.Options{
		Headers:    headers,
		HTTPSProxy: s.config.HTTPSProxy,
		Stream:     unified.Stream,
		RequestID:  requestID,
		Logger:     s.logger,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Caller hung up; there is nobody to answer.
			return nil
		}
		log.Error("Upstream request failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, errorBody("upstream_error", err.Error()))
	}

	w := streaming.NewWriter(c.Response())
	if err := transformer.TransformResponseOut(ctx, resp, unified, info, w); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Error("Response translation failed", zap.Error(err))
		if !w.Closed() {
			return c.JSON(http.StatusBadGateway, errorBody("upstream_error", err.Error()))
		}
	}
	return nil
}

func errorBody(kind, message string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    kind,
			"message": message,
		},
	}
}
