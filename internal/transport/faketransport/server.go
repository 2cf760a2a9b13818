// Package faketransport is a test-only remote object store: an
// in-memory transfer table guarded by a mutex dispatching the
// initiate/chunk/complete routes, plus range GETs for downloads,
// keyed by URL prefix instead of a server-minted transfer ID, since
// internal/protocol's wire format carries no session token of its
// own.
package faketransport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arvensis/blobtransfer/internal/protocol"
)

const (
	suffixInitiate = protocol.BasePath + "/initiate"
	suffixCommit   = protocol.BasePath + "/commit"
	blockInfix     = protocol.BasePath + "/block/"
)

// uploadSession accumulates blocks for one prefix (the destination URL
// with the protocol suffix stripped) until CommitBlockList.
type uploadSession struct {
	totalSize  int64
	blockCount int
	blocks     map[string][]byte
	committed  bool
}

// Server is an http.Handler standing in for a remote blob-transfer
// endpoint in tests. Register downloadable content with SetObject,
// then read back what was uploaded with Uploaded.
type Server struct {
	mu       sync.Mutex
	objects  map[string][]byte // path -> content, for download GETs
	sessions map[string]*uploadSession
	failNext map[string]int // path -> remaining requests to fail, for retry tests
}

// New constructs an empty Server.
func New() *Server {
	return &Server{
		objects:  make(map[string][]byte),
		sessions: make(map[string]*uploadSession),
		failNext: make(map[string]int),
	}
}

// SetObject registers path as downloadable with the given content.
func (s *Server) SetObject(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = content
}

// FailNextRequests makes the next n requests to path return 503, for
// exercising retry/backoff behavior.
func (s *Server) FailNextRequests(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[path] = n
}

// Uploaded reassembles the committed blocks for prefix in blockIDs
// order, or nil if the session was never committed.
func (s *Server) Uploaded(prefix string, blockIDsInOrder []string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[prefix]
	if !ok || !sess.committed {
		return nil
	}
	var out []byte
	for _, id := range blockIDsInOrder {
		out = append(out, sess.blocks[id]...)
	}
	return out
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if s.consumeFailure(path) {
		protocol.WriteErrorResponse(w, http.StatusServiceUnavailable, "injected failure")
		return
	}

	switch {
	case strings.HasSuffix(path, suffixInitiate):
		s.handleInitiate(w, r, strings.TrimSuffix(path, suffixInitiate))
	case strings.HasSuffix(path, suffixCommit):
		s.handleCommit(w, r, strings.TrimSuffix(path, suffixCommit))
	case strings.Contains(path, blockInfix):
		idx := strings.Index(path, blockInfix)
		prefix := path[:idx]
		blockID := path[idx+len(blockInfix):]
		s.handleBlock(w, r, prefix, blockID)
	default:
		s.handleDownload(w, r, path)
	}
}

func (s *Server) consumeFailure(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.failNext[path]
	if n <= 0 {
		return false
	}
	s.failNext[path] = n - 1
	return true
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request, prefix string) {
	if r.Method != http.MethodPost {
		protocol.WriteErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req protocol.InitiateUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		protocol.WriteErrorResponse(w, http.StatusBadRequest, "invalid json")
		return
	}

	s.mu.Lock()
	s.sessions[prefix] = &uploadSession{
		totalSize:  req.TotalSize,
		blockCount: req.BlockCount,
		blocks:     make(map[string][]byte),
	}
	s.mu.Unlock()

	protocol.WriteJSONResponse(w, http.StatusCreated, protocol.InitiateUploadResponse{
		BlobID:    req.BlobID,
		Status:    protocol.StatusPending,
		Message:   "upload session created",
		CreatedAt: time.Now(),
	})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request, prefix, blockID string) {
	if r.Method != http.MethodPost {
		protocol.WriteErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		protocol.WriteErrorResponse(w, http.StatusBadRequest, "failed to read block body")
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[prefix]
	if !ok {
		s.mu.Unlock()
		protocol.WriteErrorResponse(w, http.StatusNotFound, "unknown upload session")
		return
	}
	sess.blocks[blockID] = data
	s.mu.Unlock()

	protocol.WriteJSONResponse(w, http.StatusOK, protocol.BlockUploadResponse{
		BlockID: blockID,
		Status:  protocol.StatusInProgress,
		Message: "block received",
	})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request, prefix string) {
	if r.Method != http.MethodPost {
		protocol.WriteErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req protocol.CommitBlockListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		protocol.WriteErrorResponse(w, http.StatusBadRequest, "invalid json")
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[prefix]
	if !ok {
		s.mu.Unlock()
		protocol.WriteErrorResponse(w, http.StatusNotFound, "unknown upload session")
		return
	}
	for _, id := range req.BlockIDs {
		if _, got := sess.blocks[id]; !got {
			s.mu.Unlock()
			protocol.WriteErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("missing block %s", id))
			return
		}
	}
	sess.committed = true
	s.mu.Unlock()

	protocol.WriteJSONResponse(w, http.StatusOK, protocol.CommitBlockListResponse{
		Status:      protocol.StatusComplete,
		Message:     "upload committed",
		CompletedAt: time.Now(),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, path string) {
	s.mu.Lock()
	content, ok := s.objects[path]
	s.mu.Unlock()
	if !ok {
		protocol.WriteErrorResponse(w, http.StatusNotFound, "object not found")
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
		return
	}

	start, end, ok := parseRange(rangeHeader, len(content))
	if !ok {
		protocol.WriteErrorResponse(w, http.StatusRequestedRangeNotSatisfiable, "bad range")
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, len(content)))
	w.Header().Set("Content-Length", strconv.Itoa(int(end-start)))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(content[start:end])
}

// parseRange understands the single "bytes=start-end" form this
// module's transport clients emit.
func parseRange(header string, total int) (start, end int64, ok bool) {
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	var err error
	start, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	endInclusive, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end = endInclusive + 1
	if end > int64(total) {
		end = int64(total)
	}
	if start < 0 || start > end {
		return 0, 0, false
	}
	return start, end, true
}
