package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/server/models"
	"github.com/gin-gonic/gin"
)

type initRequest struct {
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
}

type completeRequest struct {
	UploadID      string `json:"upload_id"`
	PublicationID int64  `json:"publication_id"`
	IssueDate     string `json:"issue_date"`
	IssueNumber   string `json:"issue_number"`
	Language      string `json:"language"`
}

type abortRequest struct {
	UploadID string `json:"upload_id"`
}

// bindJSON decodes the body and reports malformed input as a validation error.
func (s *Server) bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		s.writeError(c, common.Validationf("malformed request body: %v", err))
		return false
	}
	return true
}

func (s *Server) uploadInit(c *gin.Context) {
	var req initRequest
	if !s.bindJSON(c, &req) {
		return
	}

	res, err := s.Uploads.Init(c.Request.Context(), req.Filename, req.Filesize, CallerFrom(c.Request.Context()).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// uploadChunk accepts multipart fields upload_id, chunk_index and the chunk
// file part.
func (s *Server) uploadChunk(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxChunkBytes+multipartOverhead)

	fh, err := c.FormFile("chunk")
	if err != nil {
		if statusFor(err) == http.StatusRequestEntityTooLarge {
			s.writeError(c, err)
			return
		}
		s.writeError(c, common.Validationf("chunk part is required"))
		return
	}

	index, err := strconv.Atoi(strings.TrimSpace(c.PostForm("chunk_index")))
	if err != nil {
		s.writeError(c, common.Validationf("chunk_index must be an integer"))
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer f.Close()

	res, err := s.Uploads.PutChunk(c.Request.Context(), strings.TrimSpace(c.PostForm("upload_id")), index, f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func parseIssueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, common.Validationf("issue_date %q is not a date", s)
	}
	return t, nil
}

func (s *Server) uploadComplete(c *gin.Context) {
	var req completeRequest
	if !s.bindJSON(c, &req) {
		return
	}

	date, err := parseIssueDate(req.IssueDate)
	if err != nil {
		s.writeError(c, err)
		return
	}
	meta := models.IssueMetadata{
		PublicationID: req.PublicationID,
		IssueDate:     date,
		IssueNumber:   req.IssueNumber,
		Language:      models.Language(strings.ToLower(strings.TrimSpace(req.Language))),
	}

	issue, err := s.Uploads.Complete(c.Request.Context(), strings.TrimSpace(req.UploadID), meta, CallerFrom(c.Request.Context()).UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"issue": issue})
}

func (s *Server) uploadAbort(c *gin.Context) {
	var req abortRequest
	if !s.bindJSON(c, &req) {
		return
	}

	if err := s.Uploads.Abort(c.Request.Context(), strings.TrimSpace(req.UploadID)); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "aborted"})
}
