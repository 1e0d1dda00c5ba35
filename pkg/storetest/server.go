// Package storetest provides an in-memory store server speaking the node
// API, for tests and local development.
package storetest

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/storeclient/pkg/protocol"
)

const maxUpload = 64 << 20

type node struct {
	id       string
	parent   string
	name     string
	folder   bool
	mimetype string
	created  time.Time
	modified time.Time
	children []string // ids, insertion order
	versions [][]byte // content history, latest last
}

// RecordedRequest is a request seen by the server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
}

// Server is an in-memory store. It is safe for concurrent use.
type Server struct {
	token  string
	logger *zap.Logger

	mu         sync.RWMutex
	nodes      map[string]*node
	rootID     string
	neighbours []protocol.NeighbourDTO
	status     protocol.StatusDTO
	search     map[string][]protocol.SearchResultDTO
	requests   []RecordedRequest
	now        func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithToken makes the server require "Authorization: Bearer <token>".
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock overrides the time source used for creation and modification
// dates.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a store holding only an empty root folder.
func New(opts ...Option) *Server {
	s := &Server{
		logger: zap.NewNop(),
		nodes:  make(map[string]*node),
		search: make(map[string][]protocol.SearchResultDTO),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	now := s.now().UTC()
	root := &node{id: uuid.NewString(), folder: true, created: now, modified: now}
	s.nodes[root.id] = root
	s.rootID = root.id
	s.status = protocol.StatusDTO{ConnectedID: "anonymous", NbCPUs: 1}
	return s
}

// RootID returns the id of the root folder.
func (s *Server) RootID() string {
	return s.rootID
}

// AddFolder creates a folder and returns its id.
func (s *Server) AddFolder(parentID, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.addLocked(parentID, name, true, "", nil)
	if err != nil {
		return "", err
	}
	return n.id, nil
}

// AddFile creates a file and returns its id.
func (s *Server) AddFile(parentID, name, mimetype string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.addLocked(parentID, name, false, mimetype, data)
	if err != nil {
		return "", err
	}
	return n.id, nil
}

// Versions returns the number of content versions stored for a file.
func (s *Server) Versions(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.nodes[id]; ok {
		return len(n.versions)
	}
	return 0
}

// SetNeighbours replaces the peer list.
func (s *Server) SetNeighbours(list []protocol.NeighbourDTO) {
	s.mu.Lock()
	s.neighbours = list
	s.mu.Unlock()
}

// SetStatus replaces the status payload.
func (s *Server) SetStatus(st protocol.StatusDTO) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// SetSearchResults registers the results returned for query. Queries with
// no registered results match node names instead.
func (s *Server) SetSearchResults(query string, results []protocol.SearchResultDTO) {
	s.mu.Lock()
	s.search[query] = results
	s.mu.Unlock()
}

// Requests returns every request received so far.
func (s *Server) Requests() []RecordedRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /q/health", s.handleHealth)

	mux.HandleFunc("GET /api/nodes", s.handleRoot)
	mux.HandleFunc("GET /api/nodes/{id}", s.handleGet)
	mux.HandleFunc("GET /api/nodes/{id}/path", s.handlePath)
	mux.HandleFunc("GET /api/nodes/{id}/children", s.handleChildren)
	mux.HandleFunc("GET /api/nodes/{id}/content", s.handleContent)
	mux.HandleFunc("POST /api/nodes/{id}", s.handleCreate)
	mux.HandleFunc("PUT /api/nodes/{id}/{name}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/nodes/{id}/{name}", s.handleDelete)

	mux.HandleFunc("GET /api/network", s.handleNetwork)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/search", s.handleSearch)

	return s.record(s.authenticate(mux))
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
		})
		s.mu.Unlock()
		s.logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.URL.Path != protocol.PathHealth {
			if r.Header.Get("Authorization") != "Bearer "+s.token {
				sendError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "UP", "checks": []any{}})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Location", protocol.PathNodes+"/"+s.rootID)
	w.WriteHeader(http.StatusSeeOther)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[r.PathValue("id")]
	if !ok {
		sendError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, n.dto())
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[r.PathValue("id")]
	if !ok {
		sendError(w, http.StatusNotFound, "node not found")
		return
	}
	var path []protocol.NodeDTO
	for cur := n; cur != nil; cur = s.nodes[cur.parent] {
		path = append([]protocol.NodeDTO{cur.dto()}, path...)
		if cur.parent == "" {
			break
		}
	}
	writeJSON(w, http.StatusOK, path)
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", protocol.DefaultChildrenLimit)
	offset := queryInt(r, "offset", 0)
	if limit < 0 || offset < 0 {
		sendError(w, http.StatusBadRequest, "limit and offset must not be negative")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[r.PathValue("id")]
	if !ok {
		sendError(w, http.StatusNotFound, "node not found")
		return
	}
	if !n.folder {
		sendError(w, http.StatusBadRequest, "node is not a directory")
		return
	}

	values := make([]json.RawMessage, 0, min(limit, len(n.children)))
	for i := offset; i < len(n.children) && len(values) < limit; i++ {
		data, err := json.Marshal(s.nodes[n.children[i]].dto())
		if err != nil {
			sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		values = append(values, data)
	}
	writeJSON(w, http.StatusOK, protocol.CollectionDTO{
		Limit:  limit,
		Offset: offset,
		Size:   len(n.children),
		Values: values,
	})
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	n, ok := s.nodes[r.PathValue("id")]
	var data []byte
	var name, mimetype string
	isFolder := ok && n.folder
	if ok && !isFolder {
		data = n.versions[len(n.versions)-1]
		name, mimetype = n.name, n.mimetype
	}
	s.mu.RUnlock()

	if !ok {
		sendError(w, http.StatusNotFound, "node not found")
		return
	}
	if isFolder {
		sendError(w, http.StatusBadRequest, "node is not a file")
		return
	}

	disposition := "filename=" + name
	if download, _ := strconv.ParseBool(r.URL.Query().Get("download")); download {
		disposition = "attachment; " + disposition
	}
	w.Header().Set("Content-Type", mimetype)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	parentID := r.PathValue("id")

	var (
		name     string
		data     []byte
		mimetype string
		folder   = true
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			sendError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
			return
		}
		name = r.FormValue(protocol.FieldName)
		if f, hdr, err := r.FormFile(protocol.FieldData); err == nil {
			data, err = io.ReadAll(f)
			f.Close()
			if err != nil {
				sendError(w, http.StatusBadRequest, err.Error())
				return
			}
			mimetype = hdr.Header.Get("Content-Type")
			folder = false
		}
	case "application/json":
		var req protocol.CreateFolderRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxUpload)).Decode(&req); err != nil {
			sendError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		name = req.Name
	default:
		sendError(w, http.StatusUnsupportedMediaType, "unsupported content type")
		return
	}
	if strings.TrimSpace(name) == "" {
		sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	s.mu.Lock()
	n, err := s.addLocked(parentID, name, folder, mimetype, data)
	s.mu.Unlock()
	if err != nil {
		sendStoreError(w, err)
		return
	}

	w.Header().Set("Location", protocol.PathNodes+"/"+n.id)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		sendError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	f, hdr, err := r.FormFile(protocol.FieldData)
	if err != nil {
		sendError(w, http.StatusBadRequest, "data is required")
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.nodes[r.PathValue("id")]
	if !ok {
		sendError(w, http.StatusNotFound, "node not found")
		return
	}
	child := s.childLocked(parent, r.PathValue("name"))
	if child == nil {
		sendError(w, http.StatusNotFound, "node not found")
		return
	}
	if child.folder {
		sendError(w, http.StatusBadRequest, "node is not a file")
		return
	}
	child.versions = append(child.versions, data)
	if ct := hdr.Header.Get("Content-Type"); ct != "" {
		child.mimetype = ct
	}
	child.modified = s.now().UTC()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.nodes[r.PathValue("id")]
	if !ok {
		sendError(w, http.StatusNotFound, "node not found")
		return
	}
	child := s.childLocked(parent, r.PathValue("name"))
	if child == nil {
		sendError(w, http.StatusNotFound, "node not found")
		return
	}
	if len(child.children) > 0 {
		sendError(w, http.StatusConflict, "node is not empty")
		return
	}

	delete(s.nodes, child.id)
	for i, id := range parent.children {
		if id == child.id {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	parent.modified = s.now().UTC()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.neighbours
	if list == nil {
		list = []protocol.NeighbourDTO{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	writeJSON(w, http.StatusOK, s.status)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	s.mu.RLock()
	defer s.mu.RUnlock()
	if results, ok := s.search[q]; ok {
		writeJSON(w, http.StatusOK, results)
		return
	}

	results := []protocol.SearchResultDTO{}
	if q == "" {
		writeJSON(w, http.StatusOK, results)
		return
	}
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := s.nodes[id]
		if n.id == s.rootID || !strings.Contains(strings.ToLower(n.name), strings.ToLower(q)) {
			continue
		}
		value, err := json.Marshal(n.dto())
		if err != nil {
			continue
		}
		results = append(results, protocol.SearchResultDTO{
			Type:       "node",
			Identifier: n.id,
			Explain:    "name matches " + q,
			Value:      value,
		})
	}
	writeJSON(w, http.StatusOK, results)
}

// storeError carries the HTTP status of a failed mutation.
type storeError struct {
	status int
	msg    string
}

func (e *storeError) Error() string { return e.msg }

func (s *Server) addLocked(parentID, name string, folder bool, mimetype string, data []byte) (*node, error) {
	parent, ok := s.nodes[parentID]
	if !ok {
		return nil, &storeError{http.StatusNotFound, fmt.Sprintf("node %s not found", parentID)}
	}
	if !parent.folder {
		return nil, &storeError{http.StatusBadRequest, "parent is not a directory"}
	}
	if s.childLocked(parent, name) != nil {
		return nil, &storeError{http.StatusConflict, fmt.Sprintf("%s already exists", name)}
	}

	now := s.now().UTC()
	n := &node{
		id:       uuid.NewString(),
		parent:   parent.id,
		name:     name,
		folder:   folder,
		created:  now,
		modified: now,
	}
	if !folder {
		if data == nil {
			data = []byte{}
		}
		if mimetype == "" {
			mimetype = http.DetectContentType(data)
		}
		n.mimetype = mimetype
		n.versions = [][]byte{data}
	}
	s.nodes[n.id] = n
	parent.children = append(parent.children, n.id)
	parent.modified = now
	return n, nil
}

func (s *Server) childLocked(parent *node, name string) *node {
	for _, id := range parent.children {
		if c := s.nodes[id]; c != nil && c.name == name {
			return c
		}
	}
	return nil
}

func (n *node) dto() protocol.NodeDTO {
	dto := protocol.NodeDTO{
		ID:           n.id,
		Parent:       n.parent,
		Name:         n.name,
		Type:         protocol.NodeTypeBlob,
		Creation:     protocol.Timestamp{Time: n.created},
		Modification: protocol.Timestamp{Time: n.modified},
	}
	if n.folder {
		dto.Type = protocol.NodeTypeTree
		return dto
	}
	m := n.mimetype
	dto.Mimetype = &m
	dto.Size = int64(len(n.versions[len(n.versions)-1]))
	return dto
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg, Code: status})
}

func sendStoreError(w http.ResponseWriter, err error) {
	if se, ok := err.(*storeError); ok {
		sendError(w, se.status, se.msg)
		return
	}
	sendError(w, http.StatusInternalServerError, err.Error())
}
