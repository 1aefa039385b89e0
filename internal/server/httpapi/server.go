// Package httpapi exposes the vault over HTTP/JSON with gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/medvault/internal/acl"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/metrics"
	"github.com/dmitrijs2005/medvault/internal/timex"
	"github.com/dmitrijs2005/medvault/internal/tokens"
	"github.com/dmitrijs2005/medvault/internal/vault"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// maxUploadSize bounds a single plaintext upload.
const maxUploadSize = 64 << 20

type HTTPServer struct {
	address   string
	vault     *vault.Service
	tokens    *tokens.Manager
	acl       *acl.Service
	metrics   *metrics.Metrics
	logger    logging.Logger
	clock     timex.Clock
	jwtSecret []byte
}

func NewHTTPServer(a string, l logging.Logger, v *vault.Service, tm *tokens.Manager, as *acl.Service,
	m *metrics.Metrics, clock timex.Clock, secretKey string) *HTTPServer {
	if clock == nil {
		clock = timex.SystemClock
	}
	return &HTTPServer{
		address:   a,
		logger:    l.With("module", "http_server"),
		vault:     v,
		tokens:    tm,
		acl:       as,
		metrics:   m,
		clock:     clock,
		jwtSecret: []byte(secretKey),
	}
}

// Router builds the gin engine with every route mounted.
func (s *HTTPServer) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Authorization", "X-File-Name", "X-Record-Type", "X-Patient-Id"},
		ExposeHeaders:   []string{"Content-Length", "Content-Disposition"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/api/v1")

	// Bearer-of-token routes: holding the share link is the credential.
	api.GET("/shares/:id", s.validateShare)
	api.POST("/shares/:id/open", s.openShare)
	api.POST("/shares/:id/redeem", s.redeemShare)
	api.POST("/links/open", s.openLink)

	authed := api.Group("", s.authMiddleware())
	authed.POST("/files", s.uploadFile)
	authed.GET("/files/:cid", s.downloadFile)
	authed.POST("/shares", s.createShare)
	authed.GET("/shares", s.listShares)
	authed.GET("/shares/received", s.listReceived)
	authed.DELETE("/shares/:id", s.revokeShare)
	authed.POST("/acl/:cid/grants", s.grantAccess)
	authed.DELETE("/acl/:cid/grants/:wallet", s.revokeAccess)
	authed.GET("/acl/:cid/access", s.verifyAccess)

	return r
}

func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug(c.Request.Context(), "request",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
