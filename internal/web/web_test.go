package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tapevault/tapevault/internal/models"
)

type fakeCatalog struct {
	tapes   []models.Tape
	files   map[string][]models.FileEntry
	total   int64
	free    int64
	dropped []string
}

func (c *fakeCatalog) ListTapes() ([]models.Tape, error) { return c.tapes, nil }

func (c *fakeCatalog) FilesUnderForTape(tag, prefix string) ([]models.FileEntry, error) {
	var out []models.FileEntry
	for _, e := range c.files[tag] {
		if prefix == "" || strings.HasPrefix(e.Path, prefix+"/") {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *fakeCatalog) TotalCapacity() (int64, int64, error) { return c.total, c.free, nil }

func (c *fakeCatalog) DropTape(tag string) error {
	c.dropped = append(c.dropped, tag)
	return nil
}

func TestHandleIndexListsTapes(t *testing.T) {
	cat := &fakeCatalog{
		tapes: []models.Tape{{VolumeTag: "VOL001", LastSeen: 1000, TotalSpace: 1000, FreeSpace: 400}},
		total: 1000, free: 400,
	}
	s := NewServer(cat, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "VOL001") {
		t.Errorf("index body missing volume tag: %s", rec.Body.String())
	}
}

func TestHandleAPIFilesListsImmediateChildren(t *testing.T) {
	cat := &fakeCatalog{
		files: map[string][]models.FileEntry{
			"VOL001": {
				{Path: "data/a.bin", Size: 10, MTime: 100},
				{Path: "data/b.bin", Size: 20, MTime: 200},
				{Path: "root.txt", Size: 1, MTime: 1},
			},
		},
	}
	s := NewServer(cat, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/files/VOL001", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"name":"data"`) || !strings.Contains(body, `"is_dir":true`) {
		t.Errorf("expected data dir entry in %s", body)
	}
	if !strings.Contains(body, `"name":"root.txt"`) {
		t.Errorf("expected root.txt entry in %s", body)
	}
}

func TestHandleAPIFilesWithPathScopesToSubdirectory(t *testing.T) {
	cat := &fakeCatalog{
		files: map[string][]models.FileEntry{
			"VOL001": {
				{Path: "data/a.bin", Size: 10, MTime: 100},
				{Path: "data/sub/b.bin", Size: 20, MTime: 200},
			},
		},
	}
	s := NewServer(cat, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/files/VOL001?path=data", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `"name":"a.bin"`) || !strings.Contains(body, `"name":"sub"`) {
		t.Errorf("unexpected listing: %s", body)
	}
}

func TestHandleAdminDeleteRequiresToken(t *testing.T) {
	cat := &fakeCatalog{}
	s := NewServer(cat, nil, "secret")

	req := httptest.NewRequest(http.MethodPost, "/admin/tapes/VOL001/delete", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if len(cat.dropped) != 0 {
		t.Fatal("expected no drop without a valid token")
	}
}

func TestHandleAdminDeleteWithValidToken(t *testing.T) {
	cat := &fakeCatalog{}
	s := NewServer(cat, nil, "secret")

	req := httptest.NewRequest(http.MethodPost, "/admin/tapes/VOL001/delete", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(cat.dropped) != 1 || cat.dropped[0] != "VOL001" {
		t.Fatalf("dropped = %v, want [VOL001]", cat.dropped)
	}
}

func TestHandleAdminDeleteDisabledWithEmptyToken(t *testing.T) {
	cat := &fakeCatalog{}
	s := NewServer(cat, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/admin/tapes/VOL001/delete", nil)
	req.Header.Set("X-Admin-Token", "")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 when no admin token is configured", rec.Code)
	}
}
