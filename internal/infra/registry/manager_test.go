package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/siavashhub/lemonade/internal/domain"
	"github.com/siavashhub/lemonade/internal/infra/sqlite"
)

// newTestManager creates a Manager backed by a local HTTP test server.
// Tests never hit the real network — all downloads serve fake GGUF data.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()

	db, err := sqlite.Open(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("Open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := []byte("GGUF-FAKE-MODEL-DATA-FOR-TESTING-" + r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	}))
	t.Cleanup(srv.Close)

	mgr := NewManager(filepath.Join(dir, "models"), db)
	mgr.SetTestURL(srv.URL)
	if err := mgr.Init(); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	return mgr
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		input string
		name  string
		tag   string
	}{
		{"llama3", "llama3", "latest"},
		{"llama3:7b", "llama3", "7b"},
		{"mymodel:v2.1", "mymodel", "v2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ref := ParseRef(tt.input)
			if ref.Name != tt.name {
				t.Errorf("Name = %q, want %q", ref.Name, tt.name)
			}
			if ref.Tag != tt.tag {
				t.Errorf("Tag = %q, want %q", ref.Tag, tt.tag)
			}
		})
	}
}

func TestManager_Init(t *testing.T) {
	mgr := newTestManager(t)

	blobsDir := filepath.Join(mgr.dir, "blobs")
	manifestsDir := filepath.Join(mgr.dir, "manifests")

	if _, err := os.Stat(blobsDir); os.IsNotExist(err) {
		t.Error("blobs directory should exist")
	}
	if _, err := os.Stat(manifestsDir); os.IsNotExist(err) {
		t.Error("manifests directory should exist")
	}
}

func TestManager_Pull(t *testing.T) {
	mgr := newTestManager(t)

	var lastStatus string
	var lastPct float64
	err := mgr.Pull("tinyllama", func(status string, pct float64) {
		lastStatus = status
		lastPct = pct
	})
	if err != nil {
		t.Fatalf("Pull() error: %v", err)
	}
	if lastStatus != "done" {
		t.Errorf("lastStatus = %q, want \"done\"", lastStatus)
	}
	if lastPct != 100 {
		t.Errorf("lastPct = %f, want 100", lastPct)
	}
}

func TestManager_Pull_AlreadyExists(t *testing.T) {
	mgr := newTestManager(t)

	if err := mgr.Pull("tinyllama", nil); err != nil {
		t.Fatalf("first Pull() error: %v", err)
	}

	var gotStatus string
	err := mgr.Pull("tinyllama", func(status string, pct float64) {
		gotStatus = status
	})
	if err != nil {
		t.Fatalf("second Pull() error: %v", err)
	}
	if gotStatus != "already exists" {
		t.Errorf("status = %q, want \"already exists\"", gotStatus)
	}
}

func TestManager_Pull_UnknownModel(t *testing.T) {
	mgr := newTestManager(t)

	if err := mgr.Pull("not-in-catalog", nil); err == nil {
		t.Fatal("expected error pulling unknown model")
	}
}

func TestManager_HasLocal(t *testing.T) {
	mgr := newTestManager(t)

	exists, err := mgr.HasLocal(ParseRef("tinyllama"))
	if err != nil {
		t.Fatalf("HasLocal() error: %v", err)
	}
	if exists {
		t.Error("model should not exist before pull")
	}

	if err := mgr.Pull("tinyllama", nil); err != nil {
		t.Fatalf("Pull() error: %v", err)
	}

	exists, err = mgr.HasLocal(ParseRef("tinyllama"))
	if err != nil {
		t.Fatalf("HasLocal() error: %v", err)
	}
	if !exists {
		t.Error("model should exist after pull")
	}
}

func TestManager_Get(t *testing.T) {
	mgr := newTestManager(t)

	if err := mgr.Pull("tinyllama", nil); err != nil {
		t.Fatalf("Pull() error: %v", err)
	}

	model, err := mgr.Get(context.Background(), "tinyllama")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if model.ID != "tinyllama" {
		t.Errorf("ID = %q, want %q", model.ID, "tinyllama")
	}
	if model.Recipe != domain.RecipeLlamaCpp {
		t.Errorf("Recipe = %q, want %q", model.Recipe, domain.RecipeLlamaCpp)
	}
	if model.Class != domain.ClassLLM {
		t.Errorf("Class = %q, want %q", model.Class, domain.ClassLLM)
	}
}

func TestManager_Get_NotFound(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Get(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestManager_List(t *testing.T) {
	mgr := newTestManager(t)

	models, err := mgr.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(models) != 0 {
		t.Errorf("expected empty list, got %d", len(models))
	}

	for _, name := range []string{"tinyllama", "phi3", "qwen2.5"} {
		if err := mgr.Pull(name, nil); err != nil {
			t.Fatalf("Pull(%s) error: %v", name, err)
		}
	}

	models, err = mgr.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(models) != 3 {
		t.Errorf("len(models) = %d, want 3", len(models))
	}
}

func TestManager_ListInfo(t *testing.T) {
	mgr := newTestManager(t)

	if err := mgr.Pull("tinyllama", nil); err != nil {
		t.Fatalf("Pull() error: %v", err)
	}

	infos, err := mgr.ListInfo()
	if err != nil {
		t.Fatalf("ListInfo() error: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("len(infos) = %d, want 1", len(infos))
	}
	if infos[0].Format != "gguf" {
		t.Errorf("Format = %q, want gguf", infos[0].Format)
	}
}

func TestManager_Show(t *testing.T) {
	mgr := newTestManager(t)

	if err := mgr.Pull("tinyllama", nil); err != nil {
		t.Fatalf("Pull() error: %v", err)
	}

	info, err := mgr.Show("tinyllama")
	if err != nil {
		t.Fatalf("Show() error: %v", err)
	}
	if info.Name != "tinyllama" {
		t.Errorf("Name = %q, want %q", info.Name, "tinyllama")
	}
	if info.Format != "gguf" {
		t.Errorf("Format = %q, want %q", info.Format, "gguf")
	}
}

func TestManager_Show_NotFound(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Show("ghost")
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestManager_Remove(t *testing.T) {
	mgr := newTestManager(t)

	if err := mgr.Pull("tinyllama", nil); err != nil {
		t.Fatalf("Pull() error: %v", err)
	}
	if err := mgr.Remove("tinyllama"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	exists, err := mgr.HasLocal(ParseRef("tinyllama"))
	if err != nil {
		t.Fatalf("HasLocal() error: %v", err)
	}
	if exists {
		t.Error("model should not exist after Remove()")
	}
}

func TestManager_MarkDownloaded(t *testing.T) {
	mgr := newTestManager(t)

	if err := mgr.Pull("tinyllama", nil); err != nil {
		t.Fatalf("Pull() error: %v", err)
	}
	if err := mgr.MarkDownloaded(context.Background(), "tinyllama", "/custom/path.gguf"); err != nil {
		t.Fatalf("MarkDownloaded() error: %v", err)
	}

	model, err := mgr.Get(context.Background(), "tinyllama")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if model.ArtifactPath != "/custom/path.gguf" {
		t.Errorf("ArtifactPath = %q, want /custom/path.gguf", model.ArtifactPath)
	}
}

func TestManager_BlobPath(t *testing.T) {
	mgr := NewManager("/root/models", nil)
	got := mgr.BlobPath("sha256:abc123")
	want := filepath.Join("/root/models", "blobs", "sha256-abc123")
	if got != want {
		t.Errorf("BlobPath() = %q, want %q", got, want)
	}
}

func TestManager_ManifestPath(t *testing.T) {
	mgr := NewManager("/root/models", nil)
	ref := domain.ModelRef{Name: "llama3", Tag: "7b"}
	got := mgr.ManifestPath(ref)
	want := filepath.Join("/root/models", "manifests", "llama3", "7b")
	if got != want {
		t.Errorf("ManifestPath() = %q, want %q", got, want)
	}
}

func TestManager_ManifestPath_DefaultTag(t *testing.T) {
	mgr := NewManager("/root/models", nil)
	ref := domain.ModelRef{Name: "llama3"}
	got := mgr.ManifestPath(ref)
	want := filepath.Join("/root/models", "manifests", "llama3", "latest")
	if got != want {
		t.Errorf("ManifestPath() = %q, want %q", got, want)
	}
}
