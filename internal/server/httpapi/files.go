package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/server/gateway"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
	"github.com/gin-gonic/gin"
)

// assetStatus is the polling view of an asset. Storage paths stay internal.
type assetStatus struct {
	ID           string             `json:"id"`
	OriginalName string             `json:"original_name"`
	Size         int64              `json:"size"`
	SHA256       string             `json:"sha256"`
	MimeType     string             `json:"mime_type"`
	Status       models.AssetStatus `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func (s *Server) fileStatus(c *gin.Context) {
	a, err := s.Ops.Asset(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, assetStatus{
		ID:           a.ID,
		OriginalName: a.OriginalName,
		Size:         a.Size,
		SHA256:       a.SHA256,
		MimeType:     a.MimeType,
		Status:       a.Status,
		ErrorMessage: a.ErrorMessage,
		UpdatedAt:    a.UpdatedAt,
	})
}

func (s *Server) serveFile(disp gateway.Disposition) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		a, err := s.Ops.Asset(ctx, c.Param("id"))
		if err != nil {
			s.writeError(c, err)
			return
		}
		if err := s.Files.Serve(c.Writer, c.Request, CallerFrom(ctx), a, disp); err != nil {
			s.writeError(c, err)
		}
	}
}

func (s *Server) ocrResult(c *gin.Context) {
	res, err := s.Ops.OcrResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) retryOCR(c *gin.Context) {
	if err := s.Ops.RetryOCR(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) retryPipeline(c *gin.Context) {
	if err := s.Ops.RetryPipeline(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) regenerateThumbnail(c *gin.Context) {
	if err := s.Ops.RegenerateThumbnail(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) retryFailedOCR(c *gin.Context) {
	n, err := s.Ops.RetryAllFailedOCR(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scheduled": n})
}

const defaultRegenerateLimit = 100

func (s *Server) regenerateThumbnails(c *gin.Context) {
	limit := defaultRegenerateLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(c, common.Validationf("limit must be a positive integer"))
			return
		}
		limit = n
	}

	n, err := s.Ops.RegenerateMissingThumbnails(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scheduled": n})
}

func (s *Server) deleteAsset(c *gin.Context) {
	if err := s.Ops.DeleteAsset(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
