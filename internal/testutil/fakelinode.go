// Package testutil holds in-memory fakes of the Linode API and of an
// authoritative nameserver for tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FakeRecord is a record as stored by FakeLinode.
type FakeRecord struct {
	ID     int    `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	Target string `json:"target"`
	TTLSec int    `json:"ttl_sec"`
}

type fakeDomain struct {
	ID      int    `json:"id"`
	Domain  string `json:"domain"`
	Type    string `json:"type"`
	records map[int]FakeRecord
}

// FakeLinode is a minimal in-memory Linode DNS Manager API.
type FakeLinode struct {
	Token string

	mu      sync.Mutex
	domains map[int]*fakeDomain
	nextID  int
	calls   []string // tracks endpoint calls in order
}

// NewFakeLinode starts an httptest server for a fake holding the given zones.
// The provider base_url is srv.URL + "/v4".
func NewFakeLinode(t *testing.T, token string, zones ...string) (*FakeLinode, *httptest.Server) {
	t.Helper()
	f := &FakeLinode{Token: token, domains: map[int]*fakeDomain{}, nextID: 1000}
	for _, z := range zones {
		f.AddZone(z)
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

// AddZone registers a master zone and returns its ID.
func (f *FakeLinode) AddZone(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.domains[f.nextID] = &fakeDomain{ID: f.nextID, Domain: name, Type: "master", records: map[int]FakeRecord{}}
	return f.nextID
}

// Records returns a copy of every record in zone, ordered by ID.
func (f *FakeLinode) Records(zone string) []FakeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []FakeRecord
	for _, d := range f.domains {
		if d.Domain != zone {
			continue
		}
		for _, r := range d.records {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Calls returns the endpoint calls seen so far.
func (f *FakeLinode) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// TXT returns the TXT values the fake serves for fqdn, like an
// authoritative nameserver of every zone would.
func (f *FakeLinode) TXT(fqdn string) []string {
	fqdn = strings.ToLower(strings.TrimSuffix(fqdn, "."))
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *fakeDomain
	for _, d := range f.domains {
		if (fqdn == d.Domain || strings.HasSuffix(fqdn, "."+d.Domain)) && (best == nil || len(d.Domain) > len(best.Domain)) {
			best = d
		}
	}
	if best == nil {
		return nil
	}
	name := ""
	if fqdn != best.Domain {
		name = strings.TrimSuffix(fqdn, "."+best.Domain)
	}
	var values []string
	for _, r := range best.records {
		if r.Type == "TXT" && r.Name == name {
			values = append(values, r.Target)
		}
	}
	sort.Strings(values)
	return values
}

func (f *FakeLinode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+f.Token {
		writeError(w, http.StatusUnauthorized, "Invalid Token")
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v4"), "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "domains" && r.Method == http.MethodGet:
		f.handleDomains(w, r)
	case len(parts) == 3 && parts[0] == "domains" && parts[2] == "records" && r.Method == http.MethodGet:
		f.handleRecords(w, r, parts[1])
	case len(parts) == 3 && parts[0] == "domains" && parts[2] == "records" && r.Method == http.MethodPost:
		f.handleCreate(w, r, parts[1])
	case len(parts) == 4 && parts[0] == "domains" && parts[2] == "records" && r.Method == http.MethodDelete:
		f.handleDelete(w, parts[1], parts[3])
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (f *FakeLinode) handleDomains(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	domains := make([]fakeDomain, 0, len(f.domains))
	for _, d := range f.domains {
		domains = append(domains, *d)
	}
	f.mu.Unlock()
	sort.Slice(domains, func(i, j int) bool { return domains[i].ID < domains[j].ID })
	writePage(w, r, domains)
}

func (f *FakeLinode) domain(id string) (*fakeDomain, bool) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return nil, false
	}
	d, ok := f.domains[n]
	return d, ok
}

func (f *FakeLinode) handleRecords(w http.ResponseWriter, r *http.Request, domainID string) {
	f.mu.Lock()
	d, ok := f.domain(domainID)
	var records []FakeRecord
	if ok {
		for _, rec := range d.records {
			records = append(records, rec)
		}
	}
	f.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	writePage(w, r, records)
}

func (f *FakeLinode) handleCreate(w http.ResponseWriter, r *http.Request, domainID string) {
	var rec FakeRecord
	data, err := io.ReadAll(r.Body)
	if err == nil {
		err = json.Unmarshal(data, &rec)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if rec.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	f.mu.Lock()
	d, ok := f.domain(domainID)
	if ok {
		f.nextID++
		rec.ID = f.nextID
		d.records[rec.ID] = rec
	}
	f.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (f *FakeLinode) handleDelete(w http.ResponseWriter, domainID, recordID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.domain(domainID)
	id, err := strconv.Atoi(recordID)
	if !ok || err != nil {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if _, ok := d.records[id]; !ok {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	delete(d.records, id)
	writeJSON(w, http.StatusOK, struct{}{})
}

// writePage answers with one page of items, honoring page and page_size.
func writePage[T any](w http.ResponseWriter, r *http.Request, items []T) {
	pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if pageNum < 1 {
		pageNum = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if size < 1 {
		size = 100
	}
	pages := (len(items) + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	start := min((pageNum-1)*size, len(items))
	end := min(start+size, len(items))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":    items[start:end],
		"page":    pageNum,
		"pages":   pages,
		"results": len(items),
	})
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]interface{}{
		"errors": []map[string]string{{"reason": reason}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
