// Package httpapi is the HTTP collaborator: it routes the engine's
// read/write/history operations with gorilla/mux, translates each
// gitkv error Kind to its status code, and logs every request through
// logrus once it completes.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/forgebase/gitkv"
)

// Server wraps a *gitkv.Store with the HTTP route table.
type Server struct {
	store  *gitkv.Store
	log    *logrus.Logger
	router *mux.Router
}

// New builds the router. It does not start listening; call
// ListenAndServe.
func New(store *gitkv.Store, log *logrus.Logger) *Server {
	s := &Server{store: store, log: log}
	r := mux.NewRouter()
	r.HandleFunc("/commits/{commit}/{path:.*}", s.getCommit).Methods(http.MethodGet)
	r.HandleFunc("/commits/{commit}/{path:.*}", s.putCommit).Methods(http.MethodPost)
	r.HandleFunc("/commits/{commit}/{path:.*}", s.deleteCommit).Methods(http.MethodDelete)
	r.HandleFunc("/latest/{path:.*}", s.getLatest).Methods(http.MethodGet)
	r.HandleFunc("/latest/{path:.*}", s.putLatest).Methods(http.MethodPost)
	r.HandleFunc("/latest/{path:.*}", s.deleteLatest).Methods(http.MethodDelete)
	r.HandleFunc("/history", s.history).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the route table wrapped in the access-logging
// middleware, for serving through a custom http.Server or an
// httptest one.
func (s *Server) Handler() http.Handler {
	return s.accessLog(s.router)
}

// ListenAndServe serves the router at addr with the given read/write
// timeouts, logging every request at Info level once it completes.
func (s *Server) ListenAndServe(addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	s.log.WithField("addr", addr).Info("http collaborator listening")
	return srv.ListenAndServe()
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(started).String(),
		}).Info("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type writeRequest struct {
	Data      string `json:"data"`
	Overwrite bool   `json:"overwrite"`
	CommitMsg string `json:"commit_msg"`
}

type deleteRequest struct {
	Overwrite bool   `json:"overwrite"`
	CommitMsg string `json:"commit_msg"`
}

func (s *Server) getCommit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.serveRead(w, func() (*gitkv.GitEntry, error) {
		return s.store.Read(vars["commit"], vars["path"])
	})
}

func (s *Server) getLatest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.serveRead(w, func() (*gitkv.GitEntry, error) {
		return s.store.ReadLatest(vars["path"])
	})
}

func (s *Server) serveRead(w http.ResponseWriter, read func() (*gitkv.GitEntry, error)) {
	entry, err := read()
	if err != nil {
		writeError(w, err)
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusNotFound, struct {
			Error string `json:"error"`
		}{Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) putCommit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req writeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.store.Put(vars["commit"], vars["path"], []byte(req.Data), gitkv.WriteOptions{
		Overwrite: req.Overwrite,
		CommitMsg: req.CommitMsg,
	})
	s.respondCommitID(w, id, err)
}

func (s *Server) putLatest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req writeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.store.PutLatest(vars["path"], []byte(req.Data), gitkv.WriteOptions{
		CommitMsg: req.CommitMsg,
	})
	s.respondCommitID(w, id, err)
}

func (s *Server) deleteCommit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req deleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.store.Delete(vars["commit"], vars["path"], gitkv.WriteOptions{
		Overwrite: req.Overwrite,
		CommitMsg: req.CommitMsg,
	})
	s.respondCommitID(w, id, err)
}

func (s *Server) deleteLatest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req deleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.store.DeleteLatest(vars["path"], gitkv.WriteOptions{
		CommitMsg: req.CommitMsg,
	})
	s.respondCommitID(w, id, err)
}

func (s *Server) respondCommitID(w http.ResponseWriter, id string, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		CommitID string `json:"commit_id"`
	}{CommitID: id})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	first, err := strconv.Atoi(q.Get("first"))
	if err != nil || first < 0 {
		http.Error(w, `{"error":"invalid first"}`, http.StatusBadRequest)
		return
	}
	after, _ := strconv.Atoi(q.Get("after"))
	path := q.Get("path")

	var stream gitkv.HistoryStream
	if path == "" {
		stream, err = s.store.History()
	} else {
		stream, err = s.store.FileHistory(path)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	entries, hasNext, err := gitkv.Collect(stream, after, first)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Entries []gitkv.HistoryEntry `json:"entries"`
		HasNext bool                 `json:"has_next"`
	}{Entries: entries, HasNext: hasNext})
}

// decodeBody decodes the JSON request body into v. An entirely empty
// body is treated as the zero value; no field is required, so a write
// request without data writes an empty string.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		http.Error(w, `{"error":"malformed request body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a gitkv error Kind to the status code documented for
// it and serializes the body as {"error": "..."}.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case gitkv.IsKind(err, gitkv.KindInvalidRev):
		status = http.StatusNotFound
	case gitkv.IsKind(err, gitkv.KindConflictOnWrite):
		status = http.StatusConflict
	case gitkv.IsKind(err, gitkv.KindNonUTF8Blob):
		status = http.StatusInternalServerError
	case gitkv.IsKind(err, gitkv.KindObjectStore):
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}
