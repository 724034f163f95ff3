package cloudflare

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeZone is an in-memory stand-in for the dns_records endpoints of a
// single zone.
type fakeZone struct {
	t      *testing.T
	zoneID string

	mu      sync.Mutex
	records []fakeRecord
	nextID  int
	writes  map[string]int
	// failures forces the next n requests matching a method to fail with 429
	failures map[string]int
}

type fakeRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

func newFakeZone(t *testing.T, zoneID string) (*fakeZone, *httptest.Server) {
	z := &fakeZone{
		t:        t,
		zoneID:   zoneID,
		writes:   make(map[string]int),
		failures: make(map[string]int),
	}
	srv := httptest.NewServer(z)
	t.Cleanup(srv.Close)
	return z, srv
}

func (z *fakeZone) seed(name string, contents ...string) {
	z.mu.Lock()
	defer z.mu.Unlock()
	for _, c := range contents {
		z.nextID++
		z.records = append(z.records, fakeRecord{ID: fmt.Sprintf("rec-%d", z.nextID), Type: "A", Name: name, Content: c, TTL: 120})
	}
}

func (z *fakeZone) snapshot() []fakeRecord {
	z.mu.Lock()
	defer z.mu.Unlock()
	return append([]fakeRecord(nil), z.records...)
}

func (z *fakeZone) countWithPrefix(prefix string) int {
	n := 0
	for _, r := range z.snapshot() {
		if strings.HasPrefix(r.Content, prefix+".") {
			n++
		}
	}
	return n
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, result any, info map[string]int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{
		"success":  success,
		"errors":   []any{},
		"messages": []any{},
		"result":   result,
	}
	if !success {
		body["errors"] = []map[string]any{{"code": 10000, "message": "forced failure"}}
	}
	if info != nil {
		body["result_info"] = info
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (z *fakeZone) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Auth-Email") == "" || r.Header.Get("X-Auth-Key") == "" {
		writeEnvelope(w, http.StatusForbidden, false, nil, nil)
		return
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	if z.failures[r.Method] > 0 {
		z.failures[r.Method]--
		writeEnvelope(w, http.StatusTooManyRequests, false, nil, nil)
		return
	}

	base := "/zones/" + z.zoneID + "/dns_records"
	switch {
	case r.Method == http.MethodGet && r.URL.Path == base:
		z.list(w, r)
	case r.Method == http.MethodPost && r.URL.Path == base:
		var in fakeRecord
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeEnvelope(w, http.StatusBadRequest, false, nil, nil)
			return
		}
		z.nextID++
		in.ID = fmt.Sprintf("rec-%d", z.nextID)
		z.records = append(z.records, in)
		z.writes["create"]++
		writeEnvelope(w, http.StatusOK, true, in, nil)
	case strings.HasPrefix(r.URL.Path, base+"/"):
		id := strings.TrimPrefix(r.URL.Path, base+"/")
		idx := -1
		for i, rec := range z.records {
			if rec.ID == id {
				idx = i
			}
		}
		if idx < 0 {
			writeEnvelope(w, http.StatusNotFound, false, nil, nil)
			return
		}
		switch r.Method {
		case http.MethodPut:
			var in fakeRecord
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				writeEnvelope(w, http.StatusBadRequest, false, nil, nil)
				return
			}
			in.ID = id
			z.records[idx] = in
			z.writes["update"]++
			writeEnvelope(w, http.StatusOK, true, in, nil)
		case http.MethodDelete:
			z.records = append(z.records[:idx], z.records[idx+1:]...)
			z.writes["delete"]++
			writeEnvelope(w, http.StatusOK, true, map[string]string{"id": id}, nil)
		default:
			writeEnvelope(w, http.StatusMethodNotAllowed, false, nil, nil)
		}
	default:
		writeEnvelope(w, http.StatusNotFound, false, nil, nil)
	}
}

func (z *fakeZone) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var matched []fakeRecord
	for _, rec := range z.records {
		if q.Get("type") != "" && rec.Type != q.Get("type") {
			continue
		}
		if q.Get("name") != "" && rec.Name != q.Get("name") {
			continue
		}
		matched = append(matched, rec)
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(q.Get("per_page"))
	if size < 1 {
		size = 100
	}
	totalPages := (len(matched) + size - 1) / size
	start := (page - 1) * size
	if start > len(matched) {
		start = len(matched)
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	pageItems := matched[start:end]
	if pageItems == nil {
		pageItems = []fakeRecord{}
	}
	writeEnvelope(w, http.StatusOK, true, pageItems, map[string]int{
		"page":        page,
		"per_page":    size,
		"count":       len(pageItems),
		"total_count": len(matched),
		"total_pages": totalPages,
	})
}
