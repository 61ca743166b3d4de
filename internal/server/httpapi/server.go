// Package httpapi exposes the archive over HTTP: the chunked upload protocol,
// operator retry triggers, file serving and status polling.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/logging"
	"github.com/dmitrijs2005/pressarchive/internal/server/auth"
	"github.com/dmitrijs2005/pressarchive/internal/server/gateway"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
	"github.com/dmitrijs2005/pressarchive/internal/server/uploads"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Uploads is the chunked upload protocol.
type Uploads interface {
	Init(ctx context.Context, filename string, totalSize int64, userID string) (*uploads.InitResult, error)
	PutChunk(ctx context.Context, id string, index int, r io.Reader) (*uploads.ChunkResult, error)
	Complete(ctx context.Context, id string, meta models.IssueMetadata, userID string) (*models.Issue, error)
	Abort(ctx context.Context, id string) error
}

// Operations are the pipeline's operator triggers and status lookups.
type Operations interface {
	RetryOCR(ctx context.Context, issueID string) error
	RetryPipeline(ctx context.Context, assetID string) error
	RetryAllFailedOCR(ctx context.Context) (int, error)
	RegenerateThumbnail(ctx context.Context, issueID string) error
	RegenerateMissingThumbnails(ctx context.Context, limit int) (int, error)
	DeleteAsset(ctx context.Context, assetID string) error
	Asset(ctx context.Context, assetID string) (*models.Asset, error)
	OcrResult(ctx context.Context, issueID string) (*models.OcrResult, error)
}

// Files writes an authorized asset response.
type Files interface {
	Serve(w http.ResponseWriter, r *http.Request, caller gateway.Caller, asset *models.Asset, disp gateway.Disposition) error
}

type Config struct {
	Addr            string
	JWTSecret       []byte
	AllowOrigins    []string
	MaxChunkBytes   int64
	ShutdownTimeout time.Duration
}

type Deps struct {
	Uploads Uploads
	Ops     Operations
	Files   Files
	// Metrics serves /metrics; nil disables the route.
	Metrics http.Handler
	// Health reports readiness of the backing services; nil means always ready.
	Health func(ctx context.Context) error
	Logger logging.Logger
}

type Server struct {
	Deps
	cfg    Config
	engine *gin.Engine
	logger logging.Logger
}

// multipart framing on top of the chunk payload
const multipartOverhead = 64 << 10

func New(d Deps, cfg Config) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = 8 << 20
	}

	s := &Server{Deps: d, cfg: cfg, logger: d.Logger.With("module", "http_server")}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = s.cfg.MaxChunkBytes + multipartOverhead
	r.Use(gin.Recovery(), s.accessLog(), cors.New(corsConfig(s.cfg.AllowOrigins)))

	r.GET("/health", s.health)
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics))
	}

	api := r.Group("/api")
	api.Use(s.authenticate())
	{
		api.GET("/files/:id", s.requireRoles(), s.fileStatus)
		api.GET("/files/:id/open", s.serveFile(gateway.Inline))
		api.GET("/files/:id/download", s.serveFile(gateway.Attachment))
		api.GET("/issues/:id/ocr", s.ocrResult)

		admin := api.Group("/admin")
		admin.Use(s.requireRoles(auth.RoleOperator, auth.RoleAdmin))
		{
			admin.POST("/upload/init", s.uploadInit)
			admin.POST("/upload/chunk", s.uploadChunk)
			admin.POST("/upload/complete", s.uploadComplete)
			admin.POST("/upload/abort", s.uploadAbort)

			admin.POST("/issues/:id/ocr", s.retryOCR)
			admin.POST("/issues/:id/thumbnail", s.regenerateThumbnail)
			admin.POST("/assets/:id/retry", s.retryPipeline)
			admin.POST("/ocr/retry-failed", s.retryFailedOCR)
			admin.POST("/thumbnails/regenerate", s.regenerateThumbnails)
			admin.DELETE("/assets/:id", s.requireRoles(auth.RoleAdmin), s.deleteAsset)
		}
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Range"},
		ExposeHeaders: []string{"Content-Length", "Content-Range", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func (s *Server) health(c *gin.Context) {
	if s.Health != nil {
		if err := s.Health(c.Request.Context()); err != nil {
			s.logger.Warn(c.Request.Context(), "health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
