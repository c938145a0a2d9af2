// Package main provides an HTTP API server for the bpindex library.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/oda/bpindex"
)

// Server holds the open index and provides HTTP handlers.
type Server struct {
	tree *bpindex.BPlusTree
	path string
	mu   sync.RWMutex
}

// Response is a generic JSON response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StatusResponse contains index status information.
type StatusResponse struct {
	Connected bool   `json:"connected"`
	Path      string `json:"path,omitempty"`
	Count     int    `json:"count,omitempty"`
}

// KeyValue represents one index entry.
type KeyValue struct {
	Key   int64 `json:"key"`
	Value int64 `json:"value"`
}

// InsertRequest is the request body for insert operations.
type InsertRequest struct {
	Key   int64 `json:"key"`
	Value int64 `json:"value"`
}

// OpenRequest is the request body for opening an index.
type OpenRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// ScanResult contains the results of a range scan.
type ScanResult struct {
	Items []KeyValue `json:"items"`
	Count int        `json:"count"`
}

var server = &Server{}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	http.HandleFunc("/api/status", server.handleStatus)
	http.HandleFunc("/api/open", server.handleOpen)
	http.HandleFunc("/api/close", server.handleClose)
	http.HandleFunc("/api/find", server.handleFind)
	http.HandleFunc("/api/insert", server.handleInsert)
	http.HandleFunc("/api/delete", server.handleDelete)
	http.HandleFunc("/api/scan", server.handleScan)
	http.HandleFunc("/api/count", server.handleCount)

	log.Printf("bpindex API server starting on port %s...\n", port)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := StatusResponse{
		Connected: s.tree != nil,
		Path:      s.path,
	}
	if s.tree != nil {
		if count, err := s.tree.Count(); err == nil {
			status.Count = count
		}
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: status})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid request body"})
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, Response{Error: "path is required"})
		return
	}
	if req.Name == "" {
		req.Name = "primary"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree != nil {
		s.tree.Close()
	}

	tree, err := bpindex.Open(req.Path, req.Name, bpindex.Options{})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: fmt.Sprintf("failed to open index: %v", err)})
		return
	}

	s.tree = tree
	s.path = req.Path

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    StatusResponse{Connected: true, Path: req.Path},
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tree == nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "no index open"})
		return
	}

	if err := s.tree.Close(); err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: fmt.Sprintf("failed to close: %v", err)})
		return
	}

	s.tree = nil
	s.path = ""

	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	key, ok := queryInt64(w, r, "key")
	if !ok {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tree == nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "no index open"})
		return
	}

	rid, found, err := s.tree.Get(bpindex.Int64Key(key))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: fmt.Sprintf("find failed: %v", err)})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, Response{Error: "key not found"})
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    KeyValue{Key: key, Value: bpindex.RIDToInt64(rid)},
	})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	var req InsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid request body"})
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tree == nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "no index open"})
		return
	}

	inserted, err := s.tree.Insert(bpindex.Int64Key(req.Key), bpindex.RIDFromInt64(req.Value))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: fmt.Sprintf("insert failed: %v", err)})
		return
	}
	if !inserted {
		writeJSON(w, http.StatusConflict, Response{Error: "duplicate key"})
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    KeyValue{Key: req.Key, Value: req.Value},
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	key, ok := queryInt64(w, r, "key")
	if !ok {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tree == nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "no index open"})
		return
	}

	if err := s.tree.Remove(bpindex.Int64Key(key)); err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: fmt.Sprintf("delete failed: %v", err)})
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	var start []byte
	if r.URL.Query().Get("start") != "" {
		v, ok := queryInt64(w, r, "start")
		if !ok {
			return
		}
		start = bpindex.Int64Key(v)
	}

	limit := 1000
	if r.URL.Query().Get("limit") != "" {
		v, ok := queryInt64(w, r, "limit")
		if !ok {
			return
		}
		limit = int(v)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tree == nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "no index open"})
		return
	}

	var items []KeyValue
	err := s.tree.Scan(start, func(key []byte, rid bpindex.RID) bool {
		items = append(items, KeyValue{
			Key:   bpindex.DecodeInt64Key(key),
			Value: bpindex.RIDToInt64(rid),
		})
		return len(items) < limit
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: fmt.Sprintf("scan failed: %v", err)})
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    ScanResult{Items: items, Count: len(items)},
	})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tree == nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "no index open"})
		return
	}

	count, err := s.tree.Count()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: fmt.Sprintf("count failed: %v", err)})
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]int{"count": count},
	})
}

func queryInt64(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, Response{Error: param + " is required"})
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid " + param + " format"})
		return 0, false
	}
	return v, true
}
