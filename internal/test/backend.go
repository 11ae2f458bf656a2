// Package test provides an in process backend serving JSON collections,
// paged either by an incrementing cursor or by next links.
package test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/go-chi/chi/v5"
)

type Record = map[string]any

// Backend serves every collection on three routes:
//
//	GET /{collection}?page=1&limit=2&field=value   cursor paging, 1 based pages
//	GET /{collection}/{id}                          a single record
//	GET /odata/{collection}?$top=2&$skip=0          next link paging
//
// Query parameters that are not used for paging filter records on the field
// with the same name. A comma separated value matches any of the values and
// the "ids" parameter filters on record ids.
type Backend struct {
	server *httptest.Server

	mu          sync.Mutex
	collections map[string][]Record
	requests    map[string]int
}

func NewBackend(collections map[string][]Record) *Backend {
	b := &Backend{
		collections: collections,
		requests:    map[string]int{},
	}

	r := chi.NewRouter()
	r.Use(b.countRequests)

	r.Get("/odata/{collection}", b.queryODataCollection)
	r.Get("/{collection}", b.queryCollection)
	r.Get("/{collection}/{id}", b.retrieveRecord)

	b.server = httptest.NewServer(r)

	return b
}

func (b *Backend) URL() string {
	return b.server.URL
}

func (b *Backend) Close() {
	b.server.Close()
}

// RequestCount returns the number of requests received for a path, such as "/users/1"
func (b *Backend) RequestCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[path]
}

func (b *Backend) TotalRequestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, n := range b.requests {
		total += n
	}
	return total
}

func (b *Backend) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests[r.URL.Path]++
		b.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (b *Backend) queryCollection(w http.ResponseWriter, r *http.Request) {
	records, ok := b.filtered(chi.URLParam(r, "collection"), r.URL.Query(), "page", "limit", "offset")
	if !ok {
		problem(w, http.StatusNotFound, "no such collection")
		return
	}

	q := r.URL.Query()
	limit := intParam(q, "limit", len(records))
	offset := intParam(q, "offset", 0)

	if q.Has("page") {
		offset = (intParam(q, "page", 1) - 1) * limit
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(len(records)))
	writeJSON(w, http.StatusOK, window(records, offset, limit))
}

func (b *Backend) queryODataCollection(w http.ResponseWriter, r *http.Request) {
	records, ok := b.filtered(chi.URLParam(r, "collection"), r.URL.Query(), "$top", "$skip")
	if !ok {
		problem(w, http.StatusNotFound, "no such collection")
		return
	}

	q := r.URL.Query()
	top := intParam(q, "$top", len(records))
	skip := intParam(q, "$skip", 0)

	body := map[string]any{
		"value": window(records, skip, top),
	}

	if skip+top < len(records) {
		next := url.Values{}
		for k, v := range q {
			next[k] = v
		}
		next.Set("$skip", strconv.Itoa(skip+top))
		body["@odata.nextLink"] = r.URL.Path + "?" + next.Encode()
	}

	w.Header().Set("OData-Version", "4.0")
	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) retrieveRecord(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	records, ok := b.filtered(collection, url.Values{"ids": []string{id}})
	if !ok || len(records) == 0 {
		problem(w, http.StatusNotFound, fmt.Sprintf("no %s with id %s", collection, id))
		return
	}

	writeJSON(w, http.StatusOK, records[0])
}

func (b *Backend) filtered(collection string, q url.Values, paging ...string) ([]Record, bool) {
	b.mu.Lock()
	records, ok := b.collections[collection]
	b.mu.Unlock()

	if !ok {
		return nil, false
	}

	result := []Record{}

	for _, rec := range records {
		if matches(rec, q, paging) {
			result = append(result, rec)
		}
	}

	return result, true
}

func matches(rec Record, q url.Values, paging []string) bool {
	for field, values := range q {
		if slices.Contains(paging, field) || len(values) == 0 {
			continue
		}

		wanted := strings.Split(values[0], ",")

		if field == "ids" {
			field = "id"
		}

		if !slices.Contains(wanted, valueOf(rec[field])) {
			return false
		}
	}

	return true
}

func valueOf(v any) string {
	if embedded, ok := v.(map[string]any); ok {
		return entities.IDString(embedded["id"])
	}
	return entities.IDString(v)
}

func window(records []Record, offset, limit int) []Record {
	if offset >= len(records) || limit <= 0 {
		return []Record{}
	}

	end := min(offset+limit, len(records))
	return records[offset:end]
}

func intParam(q url.Values, name string, defaultValue int) int {
	v, err := strconv.Atoi(q.Get(name))
	if err != nil {
		return defaultValue
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	b, _ := json.Marshal(body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

func problem(w http.ResponseWriter, code int, detail string) {
	b, _ := json.Marshal(map[string]string{
		"type":   "urn:entity-sync:test:problem",
		"title":  http.StatusText(code),
		"detail": detail,
	})

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)
	w.Write(b)
}
