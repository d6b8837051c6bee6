package models

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// buildModelArchive returns a zip holding a complete model layout under
// the given top-level directory.
func buildModelArchive(t *testing.T, prefix string) []byte {
	t.Helper()
	return buildArchive(t, map[string]string{
		prefix + "/am/final.mdl":     "acoustic model",
		prefix + "/conf/mfcc.conf":   "mfcc settings",
		prefix + "/conf/model.conf":  "model settings",
		prefix + "/graph/HCLr.fst":   "hclr graph",
		prefix + "/graph/Gr.fst":     "grammar graph",
		prefix + "/ivector/final.ie": "ivector extractor",
	})
}

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func archiveServer(t *testing.T, archive []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write(archive)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeModelLayout creates a valid model directory directly on disk.
func writeModelLayout(t *testing.T, dir string) {
	t.Helper()
	for _, sub := range []string{"am", "conf", "graph", "ivector"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", sub, err)
		}
	}
	for _, file := range []string{
		"am/final.mdl", "conf/mfcc.conf", "conf/model.conf",
		"graph/HCLr.fst", "graph/Gr.fst",
	} {
		path := filepath.Join(dir, filepath.FromSlash(file))
		if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
			t.Fatalf("write %s: %v", file, err)
		}
	}
}

func testSpec(url string) Spec {
	return Spec{
		Language:  "fr",
		URL:       url,
		Version:   "0.22",
		DirPrefix: "vosk-model-small-fr-0.22",
	}
}

// ---------------------------------------------------------------------------
// Ensure
// ---------------------------------------------------------------------------

func TestEnsureDownloadsAndVerifies(t *testing.T) {
	srv := archiveServer(t, buildModelArchive(t, "vosk-model-small-fr-0.22"))
	dir := t.TempDir()
	mgr := New(dir, WithLogger(quietLogger()), WithSpec(testSpec(srv.URL+"/model.zip")))

	path, err := mgr.Ensure(context.Background(), "fr")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if want := filepath.Join(dir, "vosk-model-fr"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(filepath.Join(path, "am", "final.mdl"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(data) != "acoustic model" {
		t.Errorf("extracted content = %q", string(data))
	}

	installed := mgr.Installed()
	info, ok := installed["fr"]
	if !ok {
		t.Fatal("manifest missing fr entry")
	}
	if info.Version != "0.22" {
		t.Errorf("manifest version = %q, want %q", info.Version, "0.22")
	}
	if info.Path != path {
		t.Errorf("manifest path = %q, want %q", info.Path, path)
	}
	if _, err := os.Stat(filepath.Join(dir, manifestName)); err != nil {
		t.Errorf("manifest file not written: %v", err)
	}
}

func TestEnsureSkipsDownloadWhenModelValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected download request for %s", r.URL.Path)
		http.Error(w, "should not be called", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	writeModelLayout(t, filepath.Join(dir, "vosk-model-fr"))
	mgr := New(dir, WithLogger(quietLogger()), WithSpec(testSpec(srv.URL+"/model.zip")))

	path, err := mgr.Ensure(context.Background(), "fr")
	if err != nil {
		t.Fatalf("Ensure with existing model: %v", err)
	}
	if want := filepath.Join(dir, "vosk-model-fr"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	// The manifest is backfilled for models found on disk.
	if info, ok := mgr.Installed()["fr"]; !ok {
		t.Error("manifest not backfilled for existing model")
	} else if info.Version != "0.22" {
		t.Errorf("backfilled version = %q, want %q", info.Version, "0.22")
	}
}

func TestEnsureUnknownLanguage(t *testing.T) {
	mgr := New(t.TempDir(), WithLogger(quietLogger()))

	if _, err := mgr.Ensure(context.Background(), "xx"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Ensure(xx) = %v, want ErrUnknownModel", err)
	}
	if _, err := mgr.Ensure(context.Background(), "../escape"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Ensure(../escape) = %v, want ErrUnknownModel", err)
	}
}

func TestEnsureRejectsTraversalArchive(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"../evil.txt": "malicious content",
	})
	srv := archiveServer(t, archive)
	dir := t.TempDir()
	mgr := New(dir, WithLogger(quietLogger()), WithSpec(testSpec(srv.URL+"/model.zip")))

	_, err := mgr.Ensure(context.Background(), "fr")
	if err == nil {
		t.Fatal("expected error for traversal archive")
	}
	if !strings.Contains(err.Error(), "invalid path") {
		t.Errorf("error = %q, want it to mention invalid path", err.Error())
	}
	if _, statErr := os.Stat(filepath.Join(dir, "evil.txt")); !os.IsNotExist(statErr) {
		t.Error("traversal entry escaped the extract directory")
	}
}

func TestEnsureFailsOnIncompleteModel(t *testing.T) {
	// Archive is missing am/final.mdl.
	archive := buildArchive(t, map[string]string{
		"vosk-model-small-fr-0.22/conf/mfcc.conf":   "mfcc",
		"vosk-model-small-fr-0.22/conf/model.conf":  "model",
		"vosk-model-small-fr-0.22/graph/HCLr.fst":   "hclr",
		"vosk-model-small-fr-0.22/graph/Gr.fst":     "gr",
		"vosk-model-small-fr-0.22/ivector/final.ie": "ivector",
	})
	srv := archiveServer(t, archive)
	dir := t.TempDir()
	mgr := New(dir, WithLogger(quietLogger()), WithSpec(testSpec(srv.URL+"/model.zip")))

	_, err := mgr.Ensure(context.Background(), "fr")
	if !errors.Is(err, ErrVerifyFailed) {
		t.Fatalf("Ensure = %v, want ErrVerifyFailed", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "vosk-model-fr")); !os.IsNotExist(statErr) {
		t.Error("incomplete model left in place")
	}
}

func TestEnsureReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	mgr := New(t.TempDir(), WithLogger(quietLogger()), WithSpec(testSpec(srv.URL+"/missing.zip")))

	_, err := mgr.Ensure(context.Background(), "fr")
	if err == nil {
		t.Fatal("expected error for missing archive")
	}
	if !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("error = %q, want it to mention HTTP 404", err.Error())
	}
}

func TestEnsureFallsBackToSingleDirectory(t *testing.T) {
	// Archive root does not match the catalog prefix; the single
	// subdirectory is used instead.
	srv := archiveServer(t, buildModelArchive(t, "renamed-model-dir"))
	dir := t.TempDir()
	mgr := New(dir, WithLogger(quietLogger()), WithSpec(testSpec(srv.URL+"/model.zip")))

	path, err := mgr.Ensure(context.Background(), "fr")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "conf", "model.conf")); err != nil {
		t.Errorf("model files missing after fallback: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Path / Remove / manifest
// ---------------------------------------------------------------------------

func TestPathAndRemove(t *testing.T) {
	srv := archiveServer(t, buildModelArchive(t, "vosk-model-small-fr-0.22"))
	dir := t.TempDir()
	mgr := New(dir, WithLogger(quietLogger()), WithSpec(testSpec(srv.URL+"/model.zip")))

	if _, err := mgr.Path("fr"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("Path before install = %v, want ErrNotInstalled", err)
	}

	installedPath, err := mgr.Ensure(context.Background(), "fr")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	path, err := mgr.Path("fr")
	if err != nil {
		t.Fatalf("Path after install: %v", err)
	}
	if path != installedPath {
		t.Errorf("Path = %q, want %q", path, installedPath)
	}

	if err := mgr.Remove("fr"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := mgr.Path("fr"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("Path after remove = %v, want ErrNotInstalled", err)
	}
	if _, ok := mgr.Installed()["fr"]; ok {
		t.Error("manifest entry survived Remove")
	}

	if err := mgr.Remove("zz"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Remove(zz) = %v, want ErrUnknownModel", err)
	}
}

func TestManifestReloadedAcrossManagers(t *testing.T) {
	srv := archiveServer(t, buildModelArchive(t, "vosk-model-small-fr-0.22"))
	dir := t.TempDir()

	first := New(dir, WithLogger(quietLogger()), WithSpec(testSpec(srv.URL+"/model.zip")))
	path, err := first.Ensure(context.Background(), "fr")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	second := New(dir, WithLogger(quietLogger()))
	info, ok := second.Installed()["fr"]
	if !ok {
		t.Fatal("fresh manager did not load manifest")
	}
	if info.Path != path {
		t.Errorf("reloaded path = %q, want %q", info.Path, path)
	}
}

func TestLanguagesSorted(t *testing.T) {
	mgr := New(t.TempDir(), WithLogger(quietLogger()))
	langs := mgr.Languages()
	if len(langs) != 2 || langs[0] != "en" || langs[1] != "fr" {
		t.Errorf("Languages() = %v, want [en fr]", langs)
	}
}
