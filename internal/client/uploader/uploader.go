// Package uploader drives the archive's chunked upload protocol from the
// client side: init, parallel chunk sends with per-chunk retries, complete,
// resending whatever the server reports missing, and abort on failure.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/pressarchive/internal/logging"
)

const (
	uploadPrefix = "/api/admin/upload/"
	// complete is retried at most this many times after resending missing chunks
	maxCompleteRounds = 3
)

type Options struct {
	BaseURL    string
	Token      string
	Parallel   int
	Attempts   uint
	RetryDelay time.Duration
	HTTPClient *http.Client
	Logger     logging.Logger
}

type Client struct {
	baseURL  string
	token    string
	parallel int
	attempts uint
	delay    time.Duration
	http     *http.Client
	logger   logging.Logger
}

func New(o Options) *Client {
	if o.Parallel <= 0 {
		o.Parallel = 4
	}
	if o.Attempts == 0 {
		o.Attempts = 5
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return &Client{
		baseURL:  strings.TrimRight(o.BaseURL, "/"),
		token:    o.Token,
		parallel: o.Parallel,
		attempts: o.Attempts,
		delay:    o.RetryDelay,
		http:     o.HTTPClient,
		logger:   o.Logger.With("module", "uploader"),
	}
}

// Metadata is the catalog data sent with complete.
type Metadata struct {
	PublicationID int64  `json:"publication_id"`
	IssueDate     string `json:"issue_date"`
	IssueNumber   string `json:"issue_number,omitempty"`
	Language      string `json:"language,omitempty"`
}

type Issue struct {
	ID            string `json:"id"`
	PublicationID int64  `json:"publication_id"`
	IssueNumber   string `json:"issue_number"`
	Language      string `json:"language"`
	FileID        string `json:"file_id"`
	FileSize      int64  `json:"file_size"`
}

type FileStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Size         int64  `json:"size"`
}

type session struct {
	UploadID    string `json:"upload_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Received   *int   `json:"received"`
	Expected   *int   `json:"expected"`
	Missing    []int  `json:"missing"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.StatusCode, e.Message)
}

// retryable reports whether a request may succeed if sent again.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode >= http.StatusInternalServerError,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout:
			return true
		}
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Upload sends the file at path and returns the created issue. Any failure
// after init aborts the server session.
func (c *Client) Upload(ctx context.Context, path string, meta Metadata) (*Issue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var sess session
	err = c.postJSON(ctx, uploadPrefix+"init", map[string]any{
		"filename": filepath.Base(path),
		"filesize": info.Size(),
	}, &sess)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	l := c.logger.With("upload_id", sess.UploadID)
	l.Info(ctx, "upload started", "size", info.Size(), "chunks", sess.TotalChunks)

	issue, err := c.transfer(ctx, f, info.Size(), sess, meta)
	if err != nil {
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if aerr := c.postJSON(abortCtx, uploadPrefix+"abort", map[string]string{"upload_id": sess.UploadID}, nil); aerr != nil {
			l.Warn(ctx, "abort failed", "error", aerr)
		}
		return nil, err
	}

	l.Info(ctx, "upload completed", "issue_id", issue.ID, "file_id", issue.FileID)
	return issue, nil
}

func (c *Client) transfer(ctx context.Context, r io.ReaderAt, size int64, sess session, meta Metadata) (*Issue, error) {
	pending := make([]int, sess.TotalChunks)
	for i := range pending {
		pending[i] = i
	}

	for round := 0; ; round++ {
		if err := c.sendChunks(ctx, r, size, sess, pending); err != nil {
			return nil, err
		}

		issue, err := c.complete(ctx, sess.UploadID, meta)
		if err == nil {
			return issue, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || len(apiErr.Missing) == 0 || round >= maxCompleteRounds {
			return nil, fmt.Errorf("complete: %w", err)
		}
		c.logger.Warn(ctx, "server is missing chunks, resending", "upload_id", sess.UploadID, "missing", apiErr.Missing)
		pending = apiErr.Missing
	}
}

func (c *Client) complete(ctx context.Context, id string, meta Metadata) (*Issue, error) {
	body := struct {
		UploadID string `json:"upload_id"`
		Metadata
	}{UploadID: id, Metadata: meta}

	var out struct {
		Issue Issue `json:"issue"`
	}
	if err := c.postJSON(ctx, uploadPrefix+"complete", body, &out); err != nil {
		return nil, err
	}
	return &out.Issue, nil
}

// sendChunks uploads indices with at most c.parallel requests in flight. The
// first chunk that still fails after its retries cancels the rest.
func (c *Client) sendChunks(ctx context.Context, r io.ReaderAt, size int64, sess session, indices []int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)

	for _, idx := range indices {
		g.Go(func() error {
			off := int64(idx) * sess.ChunkSize
			n := min(sess.ChunkSize, size-off)
			if n <= 0 {
				return fmt.Errorf("chunk %d is past the end of the file", idx)
			}

			err := retry.Do(
				func() error { return c.sendChunk(ctx, sess.UploadID, idx, io.NewSectionReader(r, off, n)) },
				retry.Context(ctx),
				retry.Attempts(c.attempts),
				retry.Delay(c.delay),
				retry.DelayType(retry.BackOffDelay),
				retry.RetryIf(retryable),
				retry.LastErrorOnly(true),
			)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", idx, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Client) sendChunk(ctx context.Context, id string, index int, data *io.SectionReader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("upload_id", id); err != nil {
		return err
	}
	if err := mw.WriteField("chunk_index", strconv.Itoa(index)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("chunk", "chunk_"+strconv.Itoa(index))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPrefix+"chunk", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, nil)
}

// Status polls the processing state of an uploaded file.
func (c *Client) Status(ctx context.Context, fileID string) (*FileStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/files/"+fileID, nil)
	if err != nil {
		return nil, err
	}
	var st FileStatus
	if err := c.do(req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Wait polls Status until the file is done or failed.
func (c *Client) Wait(ctx context.Context, fileID string, every time.Duration) (*FileStatus, error) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		st, err := c.Status(ctx, fileID)
		if err != nil {
			return nil, err
		}
		if st.Status == "done" || st.Status == "failed" {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
