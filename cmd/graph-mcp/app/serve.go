package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/konnektr-io/graph-mcp/pkg/auth"
	"github.com/konnektr-io/graph-mcp/pkg/config"
	"github.com/konnektr-io/graph-mcp/pkg/embeddings"
	"github.com/konnektr-io/graph-mcp/pkg/logger"
	"github.com/konnektr-io/graph-mcp/pkg/mcpserver"
	"github.com/konnektr-io/graph-mcp/pkg/search"
	"github.com/konnektr-io/graph-mcp/pkg/tenant"
	"github.com/konnektr-io/graph-mcp/pkg/versions"
)

const (
	// readHeaderTimeout prevents slowloris attacks by limiting time to read request headers.
	readHeaderTimeout = 10 * time.Second

	// readTimeout is the maximum duration for reading the entire request, including body.
	readTimeout = 30 * time.Second

	// writeTimeout is the maximum duration before timing out writes of the response.
	// High enough for streaming tool responses.
	writeTimeout = 120 * time.Second

	// idleTimeout is the maximum amount of time to wait for the next request when keep-alives are enabled.
	idleTimeout = 120 * time.Second

	// shutdownTimeout is the maximum time to wait for graceful shutdown.
	shutdownTimeout = 10 * time.Second

	// bypassSubject identifies requests admitted while authentication is disabled.
	bypassSubject = "dev-user"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	settings, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}

	gw, err := buildGateway(ctx, settings)
	if err != nil {
		return err
	}
	defer gw.close()

	httpServer := &http.Server{
		Addr:              settings.Address(),
		Handler:           gw.router(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting graph-mcp at http://%s%s", settings.Address(), mcpserver.EndpointPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down graph-mcp...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// gateway holds the assembled request-handling components.
type gateway struct {
	settings       *config.Settings
	authMiddleware func(http.Handler) http.Handler
	authInfo       http.Handler
	tenantBuilder  *tenant.Builder
	provider       embeddings.Provider
	mcp            *mcpserver.Server
}

func buildGateway(ctx context.Context, settings *config.Settings) (*gateway, error) {
	gw := &gateway{settings: settings}

	if settings.Auth.Disabled {
		gw.authMiddleware = auth.BypassMiddleware(bypassSubject)
	} else {
		jwksURL := settings.Auth.JWKSURL
		if jwksURL == "" {
			doc, err := auth.DiscoverOIDCConfiguration(ctx, http.DefaultClient, settings.Auth.Issuer)
			if err != nil {
				return nil, fmt.Errorf("OIDC discovery failed for %s: %w", settings.Auth.Issuer, err)
			}
			jwksURL = doc.JWKSURI
		}

		var keyOpts []auth.KeySetCacheOption
		if settings.Auth.KeySetTTL > 0 {
			keyOpts = append(keyOpts, auth.WithKeySetTTL(settings.Auth.KeySetTTL))
		}
		keys := auth.NewKeySetCache(jwksURL, keyOpts...)
		verifier := auth.NewVerifier(keys, settings.Auth.Issuer, settings.Auth.Audience)

		resourceMetadataURL := ""
		if settings.Server.PublicURL != "" {
			resourceMetadataURL = settings.Server.PublicURL + auth.WellKnownOAuthResourcePath
		}
		gw.authMiddleware = auth.Middleware(verifier, settings.Auth.RequiredScope, resourceMetadataURL)
		gw.authInfo = auth.NewAuthInfoHandler(
			settings.Auth.Issuer,
			jwksURL,
			settings.Server.PublicURL,
			[]string{"openid", settings.Auth.RequiredScope},
		)
	}

	builder, err := tenant.NewBuilder(settings.Backend.EndpointTemplate, settings.Backend.Timeout)
	if err != nil {
		return nil, err
	}
	gw.tenantBuilder = builder

	provider, err := embeddings.NewProvider(settings.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to configure embeddings: %w", err)
	}
	gw.provider = provider
	if provider != nil {
		logger.Infow("embeddings enabled",
			"provider", settings.Embeddings.Provider,
			"model", provider.Model(),
			"dimensions", provider.Dimensions())
	} else {
		logger.Info("embeddings disabled; vector search unavailable")
	}

	gw.mcp = mcpserver.New(versions.Version(), search.NewSearcher(provider))
	return gw, nil
}

func (gw *gateway) close() {
	if gw.provider != nil {
		if err := gw.provider.Close(); err != nil {
			logger.Warnf("Failed to close embedding provider: %v", err)
		}
	}
}

func (gw *gateway) router() http.Handler {
	r := chi.NewRouter()

	// Unauthenticated probes and discovery
	r.Get("/healthz", gw.handleLiveness)
	r.Get("/readyz", gw.handleReadiness)
	if wellKnown := auth.NewWellKnownHandler(gw.authInfo); wellKnown != nil {
		r.Handle("/.well-known/*", wellKnown)
	}

	// MCP endpoint: verify the bearer token, then bind the tenant backend.
	mcpHandler := gw.authMiddleware(tenant.Middleware(gw.tenantBuilder)(gw.mcp.Handler()))
	r.Handle(mcpserver.EndpointPath, mcpHandler)
	r.Handle(mcpserver.EndpointPath+"/*", mcpHandler)

	return r
}

func (gw *gateway) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (gw *gateway) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"version":    versions.Version(),
		"auth":       !gw.settings.Auth.Disabled,
		"embeddings": gw.provider != nil,
	})
}
