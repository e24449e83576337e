package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/peercall/peercall/backend/model"
	"github.com/peercall/peercall/backend/registry"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T, reg *registry.Registry) *httptest.Server {
	t.Helper()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	srv := NewServer(Config{
		Logger:     &logger,
		RoomStore:  reg,
		ListenAddr: ":0",
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestGetRoom(t *testing.T) {
	reg := registry.New()
	if _, err := reg.Join("r1", "X", "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	ts := newTestServer(t, reg)

	resp, err := http.Get(ts.URL + "/api/room/r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Message string     `json:"message"`
		Data    model.Room `json:"data"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Data.ID != "r1" {
		t.Fatalf("unexpected room id %q", out.Data.ID)
	}
	if p, ok := out.Data.Participants["X"]; !ok || p.Username != "alice" {
		t.Fatalf("unexpected participants %+v", out.Data.Participants)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	ts := newTestServer(t, registry.New())

	resp, err := http.Get(ts.URL + "/api/room/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var out struct {
		Error string `json:"error"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Error == "" {
		t.Fatal("expected error message in body")
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, registry.New())

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out HealthResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "UP" {
		t.Fatalf("unexpected status %q", out.Status)
	}
}
