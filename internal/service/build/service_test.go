package build

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/sheet-images/internal/cache"
	"github.com/aliskhannn/sheet-images/internal/infra/web"
	"github.com/aliskhannn/sheet-images/internal/manifest"
	"github.com/aliskhannn/sheet-images/internal/model"
	"github.com/aliskhannn/sheet-images/internal/processor"
	"github.com/aliskhannn/sheet-images/internal/sheet"
	"github.com/aliskhannn/sheet-images/internal/storage/file"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

// fixture serves a sheet at /<sheet id>/gviz/tq and images under /img/.
type fixture struct {
	srv       *httptest.Server
	mu        sync.Mutex
	csv       string
	imageHits atomic.Int32
}

func (f *fixture) setCSV(csv string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.csv = csv
}

func (f *fixture) sheetCSV() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.csv
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 120, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 2), G: uint8(y * 3), B: 90, A: 255})
		}
	}
	var pngData bytes.Buffer
	if err := png.Encode(&pngData, img); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}

	f := &fixture{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/sheet/gviz/tq":
			_, _ = w.Write([]byte(f.sheetCSV()))
		case r.URL.Path == "/img/broken.png":
			f.imageHits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		case r.URL.Path == "/img/garbage.png":
			f.imageHits.Add(1)
			_, _ = w.Write([]byte("this is not an image"))
		case strings.HasPrefix(r.URL.Path, "/img/"):
			f.imageHits.Add(1)
			_, _ = w.Write(pngData.Bytes())
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fixture) url(name string) string {
	return f.srv.URL + "/img/" + name
}

func (f *fixture) service(t *testing.T, dir string, policy cache.Policy) *Service {
	t.Helper()

	files, err := file.NewStorage(dir)
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}

	client := web.New("img-bot", 0)
	settings := Settings{SheetID: "sheet", Tab: "VRBO", Column: "Main Image URL", Policy: policy}
	proc := processor.New(processor.Options{Width: policy.Width, Height: policy.Height, Anchor: processor.AnchorAttention})

	return NewService(settings, sheet.NewFetcher(client, f.srv.URL), client, proc, files)
}

func readManifest(t *testing.T, dir string) []model.ManifestEntry {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, manifest.FileName))
	if err != nil {
		t.Fatalf("failed to read manifest: %v", err)
	}

	entries, err := manifest.Parse(data)
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}
	return entries
}

func imageSize(t *testing.T, path string) (int, int) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("failed to decode %s: %v", path, err)
	}
	if format != "jpeg" {
		t.Errorf("%s format = %q, want jpeg", path, format)
	}
	return cfg.Width, cfg.Height
}

func sized(w, h int) cache.Policy {
	return cache.Policy{Width: w, Height: h, Mode: cache.ModeDimensions}
}

func TestRunWritesImageAndManifest(t *testing.T) {
	f := newFixture(t)
	src := f.url("a.png")
	f.setCSV("Main Image URL\n" + src + "\n")

	dir := filepath.Join(t.TempDir(), "images", "vrbo")
	summary, err := f.service(t, dir, sized(57, 32)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	id := model.HashID(src)
	w, h := imageSize(t, filepath.Join(dir, id+".jpg"))
	if w != 57 || h != 32 {
		t.Errorf("image size = %dx%d, want 57x32", w, h)
	}

	entries := readManifest(t, dir)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	want := model.ManifestEntry{ID: id, Src: src, File: filepath.Join(dir, id+".jpg"), Status: "written"}
	if entries[0] != want {
		t.Errorf("entry = %+v, want %+v", entries[0], want)
	}

	if summary.Counts != (manifest.Counts{Written: 1}) {
		t.Errorf("counts = %+v", summary.Counts)
	}
	if summary.Manifest != filepath.Join(dir, manifest.FileName) {
		t.Errorf("manifest path = %q", summary.Manifest)
	}
}

func TestRunRecordsRowFailures(t *testing.T) {
	f := newFixture(t)
	good := f.url("good.png")
	broken := f.url("broken.png")
	garbage := f.url("garbage.png")
	f.setCSV("Name,Main Image URL\n" +
		"one," + good + "\n" +
		"two,\n" +
		"three,   \n" +
		"four," + broken + "\n" +
		"five," + garbage + "\n" +
		"six," + good + "?v=2\n")

	dir := t.TempDir()
	summary, err := f.service(t, dir, sized(20, 20)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	entries := readManifest(t, dir)
	if len(entries) != 6 {
		t.Fatalf("got %d entries, want 6", len(entries))
	}

	if entries[0].Status != "written" {
		t.Errorf("row 0 status = %q", entries[0].Status)
	}
	for _, i := range []int{1, 2} {
		if entries[i] != (model.ManifestEntry{Status: "skip-no-src"}) {
			t.Errorf("row %d = %+v, want skip-no-src", i, entries[i])
		}
	}
	if entries[3].Status != "error: Image fetch failed: HTTP 500" {
		t.Errorf("row 3 status = %q", entries[3].Status)
	}
	if !strings.HasPrefix(entries[4].Status, "error: failed to decode image") {
		t.Errorf("row 4 status = %q", entries[4].Status)
	}
	if entries[5].Status != "written" {
		t.Errorf("row 5 status = %q, later rows must still run", entries[5].Status)
	}

	if _, err := os.Stat(filepath.Join(dir, model.HashID(broken)+".jpg")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("no file should be written for a failed fetch, stat err = %v", err)
	}

	want := manifest.Counts{Written: 2, Skipped: 2, Errors: 2}
	if summary.Counts != want {
		t.Errorf("counts = %+v, want %+v", summary.Counts, want)
	}

	// Only the two skipped rows produce no file; the directory holds
	// two renditions plus the manifest.
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(dirEntries) != 3 {
		t.Errorf("got %d files, want 3", len(dirEntries))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.setCSV("Main Image URL\n" + f.url("a.png") + "\n" + f.url("b.png") + "\n")

	dir := t.TempDir()
	svc := f.service(t, dir, sized(30, 20))

	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	hits := f.imageHits.Load()

	summary, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	if got := f.imageHits.Load(); got != hits {
		t.Errorf("second run fetched %d images, want 0", got-hits)
	}
	if summary.Counts != (manifest.Counts{Exists: 2}) {
		t.Errorf("counts = %+v", summary.Counts)
	}
	for i, e := range readManifest(t, dir) {
		if e.Status != "exists-correct" {
			t.Errorf("entry %d status = %q, want exists-correct", i, e.Status)
		}
	}
}

func TestRunExistsModeSkipsBySize(t *testing.T) {
	f := newFixture(t)
	f.setCSV("Main Image URL\n" + f.url("a.png") + "\n")
	dir := t.TempDir()

	if _, err := f.service(t, dir, sized(30, 20)).Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	// Different target size, but presence alone counts as a hit.
	policy := cache.Policy{Width: 10, Height: 10, Mode: cache.ModeExists}
	if _, err := f.service(t, dir, policy).Run(context.Background()); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	entries := readManifest(t, dir)
	if entries[0].Status != "exists" {
		t.Errorf("status = %q, want exists", entries[0].Status)
	}
}

func TestRunRebuildsOnSizeChange(t *testing.T) {
	f := newFixture(t)
	src := f.url("a.png")
	f.setCSV("Main Image URL\n" + src + "\n")
	dir := t.TempDir()

	if _, err := f.service(t, dir, sized(30, 20)).Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if _, err := f.service(t, dir, sized(20, 30)).Run(context.Background()); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	entries := readManifest(t, dir)
	if entries[0].Status != "written" {
		t.Errorf("status = %q, want written", entries[0].Status)
	}

	// Same file name, new content.
	w, h := imageSize(t, filepath.Join(dir, model.HashID(src)+".jpg"))
	if w != 20 || h != 30 {
		t.Errorf("image size = %dx%d, want 20x30", w, h)
	}
}

func TestRunRebuildsCorruptFile(t *testing.T) {
	f := newFixture(t)
	src := f.url("a.png")
	f.setCSV("Main Image URL\n" + src + "\n")
	dir := t.TempDir()

	path := filepath.Join(dir, model.HashID(src)+".jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8}, 0o644); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	if _, err := f.service(t, dir, sized(30, 20)).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if entries := readManifest(t, dir); entries[0].Status != "written" {
		t.Errorf("status = %q, want written", entries[0].Status)
	}
}

func TestRunForceRebuild(t *testing.T) {
	f := newFixture(t)
	f.setCSV("Main Image URL\n" + f.url("a.png") + "\n\n" + ",\n")
	dir := t.TempDir()

	if _, err := f.service(t, dir, sized(30, 20)).Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	forced := sized(30, 20)
	forced.Force = true
	summary, err := f.service(t, dir, forced).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	if summary.Counts.Written != 1 {
		t.Errorf("counts = %+v, want one forced write", summary.Counts)
	}
}

func TestRunFatalErrors(t *testing.T) {
	f := newFixture(t)

	t.Run("sheet not found", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out")
		svc := f.service(t, dir, sized(10, 10))
		svc.settings.SheetID = "missing"

		_, err := svc.Run(context.Background())
		var se *web.StatusError
		if !errors.As(err, &se) || se.Code != http.StatusNotFound {
			t.Fatalf("expected 404 StatusError, got %v", err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("output directory should exist: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("output directory should be empty, got %d entries", len(entries))
		}
	})

	t.Run("no rows", func(t *testing.T) {
		f.setCSV("Main Image URL\n")
		if _, err := f.service(t, t.TempDir(), sized(10, 10)).Run(context.Background()); !errors.Is(err, sheet.ErrNoRows) {
			t.Fatalf("expected ErrNoRows, got %v", err)
		}
	})

	t.Run("missing column", func(t *testing.T) {
		f.setCSV("Product Image URL\n" + f.url("a.png") + "\n")
		_, err := f.service(t, t.TempDir(), sized(10, 10)).Run(context.Background())
		var mc *sheet.MissingColumnError
		if !errors.As(err, &mc) {
			t.Fatalf("expected MissingColumnError, got %v", err)
		}
	})
}

type fakeMirror struct {
	names []string
	err   error
}

func (m *fakeMirror) Save(_ context.Context, name string, _ []byte, _ string) (string, error) {
	m.names = append(m.names, name)
	return name, m.err
}

type fakeNotifier struct {
	events []model.BuildEvent
	err    error
}

func (n *fakeNotifier) Publish(_ context.Context, e model.BuildEvent) error {
	n.events = append(n.events, e)
	return n.err
}

func TestRunMirrorsAndNotifies(t *testing.T) {
	f := newFixture(t)
	src := f.url("a.png")
	f.setCSV("Main Image URL\n" + src + "\n" + f.url("broken.png") + "\n")

	svc := f.service(t, t.TempDir(), sized(10, 10))
	m := &fakeMirror{}
	n := &fakeNotifier{}
	svc.SetMirror(m)
	svc.SetNotifier(n)

	summary, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	id := model.HashID(src)
	if len(m.names) != 2 || m.names[0] != id+".jpg" || m.names[1] != manifest.FileName {
		t.Errorf("mirrored = %v", m.names)
	}

	if len(n.events) != 1 {
		t.Fatalf("got %d events, want 1", len(n.events))
	}
	e := n.events[0]
	if e.RunID != summary.RunID || e.Tab != "VRBO" || e.Written != 1 || e.Errors != 1 {
		t.Errorf("event = %+v", e)
	}
	if len(e.WrittenIDs) != 1 || e.WrittenIDs[0] != id {
		t.Errorf("written ids = %v", e.WrittenIDs)
	}
}

func TestRunIgnoresMirrorAndNotifierFailures(t *testing.T) {
	f := newFixture(t)
	f.setCSV("Main Image URL\n" + f.url("a.png") + "\n")

	svc := f.service(t, t.TempDir(), sized(10, 10))
	svc.SetMirror(&fakeMirror{err: errors.New("bucket offline")})
	svc.SetNotifier(&fakeNotifier{err: errors.New("broker offline")})

	summary, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Counts.Written != 1 {
		t.Errorf("counts = %+v, mirror failures must not change row status", summary.Counts)
	}
}
