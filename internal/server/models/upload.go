package models

import (
	"math"
	"sort"
	"time"
)

// UploadSession is the in-memory bookkeeping of one chunked upload. It never
// reaches the relational store.
type UploadSession struct {
	ID             string
	Filename       string
	TotalSize      int64
	ChunkSize      int64
	TotalChunks    int
	ReceivedChunks map[int]struct{}
	UserID         string
	CreatedAt      time.Time
}

// NewUploadSession computes the chunk layout for totalSize bytes.
func NewUploadSession(id, filename string, totalSize, chunkSize int64, userID string, now time.Time) *UploadSession {
	return &UploadSession{
		ID:             id,
		Filename:       filename,
		TotalSize:      totalSize,
		ChunkSize:      chunkSize,
		TotalChunks:    int((totalSize + chunkSize - 1) / chunkSize),
		ReceivedChunks: make(map[int]struct{}),
		UserID:         userID,
		CreatedAt:      now,
	}
}

// ExpectedChunkLength is the exact byte length chunk index must carry.
func (s *UploadSession) ExpectedChunkLength(index int) int64 {
	if index == s.TotalChunks-1 {
		return s.TotalSize - int64(index)*s.ChunkSize
	}
	return s.ChunkSize
}

func (s *UploadSession) HasChunk(index int) bool {
	return index >= 0 && index < s.TotalChunks
}

// MarkReceived records index; repeated indices are a no-op.
func (s *UploadSession) MarkReceived(index int) {
	s.ReceivedChunks[index] = struct{}{}
}

func (s *UploadSession) ReceivedCount() int {
	return len(s.ReceivedChunks)
}

func (s *UploadSession) Complete() bool {
	return len(s.ReceivedChunks) == s.TotalChunks
}

// Received returns the received indices in ascending order.
func (s *UploadSession) Received() []int {
	out := make([]int, 0, len(s.ReceivedChunks))
	for i := range s.ReceivedChunks {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (s *UploadSession) Missing() []int {
	out := make([]int, 0, s.TotalChunks-len(s.ReceivedChunks))
	for i := 0; i < s.TotalChunks; i++ {
		if _, ok := s.ReceivedChunks[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// Progress is the received share in percent, rounded to one decimal.
func (s *UploadSession) Progress() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	p := float64(len(s.ReceivedChunks)) / float64(s.TotalChunks) * 100
	return math.Round(p*10) / 10
}

// Clone returns a deep copy safe to hand out of a session store.
func (s *UploadSession) Clone() *UploadSession {
	c := *s
	c.ReceivedChunks = make(map[int]struct{}, len(s.ReceivedChunks))
	for i := range s.ReceivedChunks {
		c.ReceivedChunks[i] = struct{}{}
	}
	return &c
}
