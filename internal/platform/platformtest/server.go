// Package platformtest provides an in-memory fake of the remote REST
// content platform for tests. It understands the same lookups, writes and
// uploads as the live platform and counts every call per route.
package platformtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

// Prefix is the API prefix served by the fake.
const Prefix = "/wp-json/wp/v2/"

var termCollections = map[string]bool{"tags": true, "categories": true}

// Server is a fake REST platform backed by in-memory collections.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	nextID      int
	collections map[string][]models.Resource
	calls       map[string]int
	failures    map[string][]int
	// lost holds statuses returned after a create was applied.
	lost map[string][]int
	// writes holds the decoded JSON body of every create and update.
	writes []Write
}

// Write is one JSON create or update received by the fake.
type Write struct {
	Collection string
	ID         int // 0 for creates
	Payload    map[string]interface{}
}

// New starts a fake platform. Callers must Close it.
func New() *Server {
	s := &Server{
		nextID:      100,
		collections: make(map[string][]models.Resource),
		calls:       make(map[string]int),
		failures:    make(map[string][]int),
		lost:        make(map[string][]int),
	}
	r := chi.NewRouter()
	r.Get("/wp-json/", s.handleIndex)
	r.Route(strings.TrimSuffix(Prefix, "/"), func(r chi.Router) {
		r.Get("/", s.handleIndex)
		r.Get("/users/me", s.handleMe)
		r.Get("/{collection}", s.handleList)
		r.Post("/{collection}", s.handleCreate)
		r.Get("/{collection}/{id}", s.handleGet)
		r.Post("/{collection}/{id}", s.handleUpdate)
	})
	s.Server = httptest.NewServer(r)
	return s
}

// Target returns a Target pointing at the fake.
func (s *Server) Target() *models.Target {
	u, _ := url.Parse(s.URL)
	port, _ := strconv.Atoi(u.Port())
	return &models.Target{
		Name:      "fake",
		Scheme:    u.Scheme,
		Host:      u.Hostname(),
		Port:      port,
		APIPrefix: Prefix,
		Token:     "test-token",
	}
}

// Seed stores an entity in collection, assigning an id when absent, and
// returns the stored copy.
func (s *Server) Seed(collection string, r models.Resource) models.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := copyResource(r)
	if item.ID() == 0 {
		s.nextID++
		item["id"] = s.nextID
	}
	s.collections[collection] = append(s.collections[collection], item)
	return copyResource(item)
}

// Items returns a copy of a collection.
func (s *Server) Items(collection string) []models.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Resource, 0, len(s.collections[collection]))
	for _, item := range s.collections[collection] {
		out = append(out, copyResource(item))
	}
	return out
}

// Item returns one entity by id, or nil.
func (s *Server) Item(collection string, id int) models.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(collection, id); idx >= 0 {
		return copyResource(s.collections[collection][idx])
	}
	return nil
}

// Calls returns how many requests hit method on collection.
func (s *Server) Calls(method, collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+collection]
}

// Mutations returns the number of mutating requests received on any route.
func (s *Server) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.calls {
		if !strings.HasPrefix(k, "GET ") {
			n += v
		}
	}
	return n
}

// CallLog returns the call counters sorted by route, for failure messages.
func (s *Server) CallLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for k, v := range s.calls {
		out = append(out, fmt.Sprintf("%s=%d", k, v))
	}
	sort.Strings(out)
	return out
}

// Writes returns the JSON creates and updates received, in order.
func (s *Server) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// FailNext makes the next len(statuses) requests of method on collection
// fail with the given statuses, in order.
func (s *Server) FailNext(method, collection string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + collection
	s.failures[key] = append(s.failures[key], statuses...)
}

// LoseNextResponses applies the next len(statuses) creates on collection
// but answers each with the given status, the way a gateway does when the
// upstream response is lost.
func (s *Server) LoseNextResponses(collection string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lost[collection] = append(s.lost[collection], statuses...)
}

// begin counts the call and reports whether an injected failure was
// written.
func (s *Server) begin(w http.ResponseWriter, method, collection string) bool {
	s.mu.Lock()
	key := method + " " + collection
	s.calls[key]++
	var status int
	if q := s.failures[key]; len(q) > 0 {
		status = q[0]
		s.failures[key] = q[1:]
	}
	s.mu.Unlock()
	if status == 0 {
		return false
	}
	writeJSON(w, status, map[string]interface{}{
		"code":    "injected_failure",
		"message": fmt.Sprintf("injected HTTP %d", status),
		"data":    map[string]interface{}{"status": status},
	})
	return true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.begin(w, "GET", "index") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":       "Fake Site",
		"url":        s.URL,
		"namespaces": []string{"oembed/1.0", "wp/v2"},
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if s.begin(w, "GET", "users/me") {
		return
	}
	if r.Header.Get("Authorization") == "" {
		writeError(w, http.StatusUnauthorized, "rest_not_logged_in", "You are not currently logged in.", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": 1, "name": "admin", "slug": "admin"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if s.begin(w, "GET", collection) {
		return
	}
	q := r.URL.Query()
	s.mu.Lock()
	var out []models.Resource
	for _, item := range s.collections[collection] {
		if matches(item, q) {
			out = append(out, copyResource(item))
		}
	}
	s.mu.Unlock()
	if n, err := strconv.Atoi(q.Get("per_page")); err == nil && n > 0 && len(out) > n {
		out = out[:n]
	}
	if out == nil {
		out = []models.Resource{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if s.begin(w, "GET", collection) {
		return
	}
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	item := s.Item(collection, id)
	if item == nil {
		writeError(w, http.StatusNotFound, "rest_post_invalid_id", "Invalid post ID.", nil)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if s.begin(w, "POST", collection) {
		return
	}
	if collection == "media" {
		s.handleUpload(w, r)
		return
	}
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "rest_invalid_json", err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, Write{Collection: collection, Payload: copyResource(payload)})
	item := models.Resource(payload)
	if termCollections[collection] {
		name := models.StringField(payload, "name")
		if name == "" {
			writeError(w, http.StatusBadRequest, "rest_missing_callback_param", "Missing parameter(s): name", nil)
			return
		}
		for _, existing := range s.collections[collection] {
			if strings.EqualFold(existing.Name(), name) {
				writeError(w, http.StatusBadRequest, "term_exists",
					"A term with the name provided already exists with this parent.",
					map[string]interface{}{"status": 400, "term_id": existing.ID()})
				return
			}
		}
		if item.Slug() == "" {
			item["slug"] = strings.ToLower(strings.ReplaceAll(name, " ", "-"))
		}
	} else if collection == "users" {
		for _, existing := range s.collections[collection] {
			if email := models.StringField(payload, "email"); email != "" && strings.EqualFold(models.StringField(existing, "email"), email) {
				writeError(w, http.StatusBadRequest, "existing_user_email", "Sorry, that email address is already used!", nil)
				return
			}
			if login := models.StringField(payload, "username"); login != "" && models.StringField(existing, "username") == login {
				writeError(w, http.StatusBadRequest, "existing_user_login", "Sorry, that username already exists!", nil)
				return
			}
		}
	} else if slug := item.Slug(); slug != "" {
		item["slug"] = s.uniqueSlug(collection, slug)
	}
	s.nextID++
	item["id"] = s.nextID
	s.collections[collection] = append(s.collections[collection], item)
	if q := s.lost[collection]; len(q) > 0 {
		s.lost[collection] = q[1:]
		writeError(w, q[0], "upstream_error", "Bad Gateway", nil)
		return
	}
	writeJSON(w, http.StatusCreated, copyResource(item))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if s.begin(w, "POST", collection) {
		return
	}
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "rest_invalid_json", err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, Write{Collection: collection, ID: id, Payload: copyResource(payload)})
	idx := s.indexOf(collection, id)
	if idx < 0 {
		writeError(w, http.StatusNotFound, "rest_post_invalid_id", "Invalid post ID.", nil)
		return
	}
	item := s.collections[collection][idx]
	for k, v := range payload {
		if k == "id" {
			continue
		}
		if k == "meta" {
			meta := item.Meta()
			if meta == nil {
				meta = make(map[string]interface{})
			}
			if patch, ok := v.(map[string]interface{}); ok {
				for mk, mv := range patch {
					meta[mk] = mv
				}
			}
			item["meta"] = meta
			continue
		}
		item[k] = v
	}
	writeJSON(w, http.StatusOK, copyResource(item))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "rest_upload_no_data", "No data supplied.", nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rest_upload_unknown_error", err.Error(), nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	name := path.Base(header.Filename)
	item := models.Resource{
		"id":         s.nextID,
		"title":      strings.TrimSuffix(name, path.Ext(name)),
		"mime_type":  header.Header.Get("Content-Type"),
		"source_url": fmt.Sprintf("%s/wp-content/uploads/%d/%s", s.URL, s.nextID, name),
		"size":       len(data),
	}
	s.collections["media"] = append(s.collections["media"], item)
	writeJSON(w, http.StatusCreated, copyResource(item))
}

// uniqueSlug mimics the platform renaming a colliding slug. Callers hold mu.
func (s *Server) uniqueSlug(collection, slug string) string {
	taken := make(map[string]bool)
	for _, item := range s.collections[collection] {
		taken[item.Slug()] = true
	}
	if !taken[slug] {
		return slug
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", slug, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// indexOf returns the position of id in collection, or -1. Callers hold mu.
func (s *Server) indexOf(collection string, id int) int {
	for i, item := range s.collections[collection] {
		if item.ID() == id {
			return i
		}
	}
	return -1
}

func matches(item models.Resource, q url.Values) bool {
	if slug := q.Get("slug"); slug != "" && item.Slug() != slug {
		return false
	}
	if key := q.Get("meta_key"); key != "" {
		meta := item.Meta()
		if meta == nil || fmt.Sprint(meta[key]) != q.Get("meta_value") {
			return false
		}
	}
	if search := strings.ToLower(q.Get("search")); search != "" {
		hay := []string{
			item.Name(), item.Title(), item.Slug(),
			models.StringField(item, "email"), models.StringField(item, "username"),
		}
		found := false
		for _, h := range hay {
			if h != "" && strings.Contains(strings.ToLower(h), search) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func copyResource(r models.Resource) models.Resource {
	out := make(models.Resource, len(r))
	for k, v := range r {
		if m, ok := v.(map[string]interface{}); ok {
			inner := make(map[string]interface{}, len(m))
			for mk, mv := range m {
				inner[mk] = mv
			}
			v = inner
		}
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{"status": status}
	}
	writeJSON(w, status, map[string]interface{}{"code": code, "message": message, "data": data})
}
