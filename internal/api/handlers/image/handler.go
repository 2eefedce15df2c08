package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/sheet-images/internal/api/respond"
	"github.com/aliskhannn/sheet-images/internal/manifest"
	"github.com/aliskhannn/sheet-images/internal/model"
	"github.com/aliskhannn/sheet-images/internal/service/build"
	"github.com/aliskhannn/sheet-images/internal/storage/file"
)

// ErrBuildRunning is returned when a build is requested while one is in progress.
var ErrBuildRunning = errors.New("build already running")

// builder runs the pipeline once.
type builder interface {
	Run(ctx context.Context) (build.Summary, error)
}

// fileStorage opens files from the output directory.
type fileStorage interface {
	Load(name string) (*os.File, error)
}

// Handler provides HTTP handlers over the output directory.
// Builds are serialized: at most one runs at a time.
type Handler struct {
	builder builder
	files   fileStorage
	mu      sync.Mutex
}

// NewHandler creates a new Handler with the given builder and storage.
func NewHandler(b builder, fs fileStorage) *Handler {
	return &Handler{builder: b, files: fs}
}

// Manifest serves the manifest written by the last build after checking
// that it still decodes.
func (h *Handler) Manifest(c *ginext.Context) {
	f, err := h.files.Load(manifest.FileName)
	if err != nil {
		h.failLoad(c, err, "manifest")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to read manifest")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to read manifest"))
		return
	}

	entries, err := manifest.Parse(data)
	if err != nil {
		zlog.Logger.Err(err).Msg("invalid manifest")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("invalid manifest"))
		return
	}

	respond.JSON(c, http.StatusOK, entries)
}

// Get serves the rendition for the id in the path.
func (h *Handler) Get(c *ginext.Context) {
	id := c.Param("id")
	if !model.IsID(id) {
		zlog.Logger.Warn().Str("id", id).Msg("invalid id")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid id: %q", id))
		return
	}

	f, err := h.files.Load(model.FileName(id))
	if err != nil {
		h.failLoad(c, err, "image")
		return
	}
	defer f.Close()

	respond.JPEG(c, http.StatusOK, f)
}

// Build runs the pipeline and responds with the run summary.
func (h *Handler) Build(c *ginext.Context) {
	if !h.mu.TryLock() {
		respond.Fail(c, http.StatusConflict, ErrBuildRunning)
		return
	}
	defer h.mu.Unlock()

	summary, err := h.builder.Run(c.Request.Context())
	if err != nil {
		zlog.Logger.Err(err).Msg("build failed")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("build failed: %w", err))
		return
	}

	respond.OK(c, summary)
}

func (h *Handler) failLoad(c *ginext.Context, err error, what string) {
	if errors.Is(err, file.ErrNotFound) {
		respond.Fail(c, http.StatusNotFound, fmt.Errorf("%s not found", what))
		return
	}

	zlog.Logger.Err(err).Msgf("failed to load %s", what)
	respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to load %s", what))
}
