package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/sheet-images/internal/cache"
	"github.com/aliskhannn/sheet-images/internal/infra/web"
	"github.com/aliskhannn/sheet-images/internal/manifest"
	"github.com/aliskhannn/sheet-images/internal/model"
)

// rowSource downloads the spreadsheet rows.
type rowSource interface {
	Fetch(ctx context.Context, sheetID, tab, column string) ([]model.Row, error)
}

// imageSource downloads source image bytes.
type imageSource interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// renderer produces the JPEG rendition from source bytes.
type renderer interface {
	Render(src io.Reader) ([]byte, error)
}

// fileStorage is the local output directory.
type fileStorage interface {
	Dir() string
	Exists(name string) bool
	Dimensions(name string) (int, int, error)
	Save(name string, data []byte) (string, error)
}

// mirror copies outputs to remote object storage.
type mirror interface {
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// notifier announces finished runs.
type notifier interface {
	Publish(ctx context.Context, e model.BuildEvent) error
}

// Settings identify what to build.
type Settings struct {
	SheetID string
	Tab     string
	Column  string
	Policy  cache.Policy
}

// Summary describes a finished run.
type Summary struct {
	RunID    uuid.UUID       `json:"run_id"`
	Tab      string          `json:"tab"`
	Counts   manifest.Counts `json:"counts"`
	Manifest string          `json:"manifest"`
}

// Service runs the sheet → images pipeline. Rows are processed one at a
// time in sheet order.
type Service struct {
	settings Settings
	rows     rowSource
	images   imageSource
	renderer renderer
	files    fileStorage
	mirror   mirror
	notifier notifier
}

// NewService creates a new Service with the given sources, renderer and output storage.
func NewService(s Settings, rows rowSource, images imageSource, r renderer, files fileStorage) *Service {
	return &Service{
		settings: s,
		rows:     rows,
		images:   images,
		renderer: r,
		files:    files,
	}
}

// SetMirror enables uploading of every written file.
func (s *Service) SetMirror(m mirror) {
	s.mirror = m
}

// SetNotifier enables publishing a build event after every run.
func (s *Service) SetNotifier(n notifier) {
	s.notifier = n
}

// Run fetches the sheet, processes every row and writes the manifest.
// Only setup failures are returned; per-row failures end up in the manifest.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	runID := uuid.New()
	log := zlog.Logger.With().
		Str("tab", s.settings.Tab).
		Str("run_id", runID.String()).
		Logger()

	log.Info().
		Str("dir", s.files.Dir()).
		Int("width", s.settings.Policy.Width).
		Int("height", s.settings.Policy.Height).
		Bool("force", s.settings.Policy.Force).
		Msg("build started")

	rows, err := s.rows.Fetch(ctx, s.settings.SheetID, s.settings.Tab, s.settings.Column)
	if err != nil {
		return Summary{}, err
	}

	log.Info().Int("rows", len(rows)).Msg("sheet fetched")

	m := manifest.New()
	for i, row := range rows {
		o := s.ProcessRow(ctx, row)
		m.Add(o)
		logOutcome(&log, i, o)
	}

	data, err := m.Marshal()
	if err != nil {
		return Summary{}, err
	}

	path, err := s.files.Save(manifest.FileName, data)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to write manifest: %w", err)
	}
	s.mirrorFile(ctx, &log, manifest.FileName, data, "application/json")

	counts := m.Counts()
	if s.notifier != nil {
		e := model.BuildEvent{
			RunID:      runID,
			Tab:        s.settings.Tab,
			Written:    counts.Written,
			Exists:     counts.Exists,
			Skipped:    counts.Skipped,
			Errors:     counts.Errors,
			WrittenIDs: m.WrittenIDs(),
			FinishedAt: time.Now().UTC(),
		}
		if err := s.notifier.Publish(ctx, e); err != nil {
			log.Warn().Err(err).Msg("failed to publish build event")
		}
	}

	log.Info().
		Int("written", counts.Written).
		Int("exists", counts.Exists).
		Int("skipped", counts.Skipped).
		Int("errors", counts.Errors).
		Str("manifest", path).
		Msg("build finished")

	return Summary{RunID: runID, Tab: s.settings.Tab, Counts: counts, Manifest: path}, nil
}

// ProcessRow materializes the image of a single row. It never fails: every
// problem is reported as an error outcome.
func (s *Service) ProcessRow(ctx context.Context, row model.Row) (o model.Outcome) {
	src := strings.TrimSpace(row[s.settings.Column])
	if src == "" {
		return model.Outcome{Status: model.StatusSkipNoSrc}
	}

	task := model.NewTask(src, s.files.Dir())
	name := model.FileName(task.ID)

	defer func() {
		if r := recover(); r != nil {
			o = model.Failed(task, fmt.Errorf("panic: %v", r))
		}
	}()

	if build, status := s.settings.Policy.NeedsBuild(s.files, name); !build {
		return model.Outcome{Task: task, Status: status}
	}

	data, err := s.images.Get(ctx, src)
	if err != nil {
		var se *web.StatusError
		if errors.As(err, &se) {
			return model.Outcome{Task: task, Status: model.StatusError, Reason: fmt.Sprintf("Image fetch failed: HTTP %d", se.Code)}
		}
		return model.Outcome{Task: task, Status: model.StatusError, Reason: "Image fetch failed: " + err.Error()}
	}

	out, err := s.renderer.Render(bytes.NewReader(data))
	if err != nil {
		return model.Failed(task, err)
	}

	if _, err := s.files.Save(name, out); err != nil {
		return model.Failed(task, err)
	}

	log := zlog.Logger.With().Str("tab", s.settings.Tab).Logger()
	s.mirrorFile(ctx, &log, name, out, "image/jpeg")

	return model.Outcome{Task: task, Status: model.StatusWritten}
}

// mirrorFile uploads data when a mirror is configured. Failures are logged only.
func (s *Service) mirrorFile(ctx context.Context, log *zerolog.Logger, name string, data []byte, contentType string) {
	if s.mirror == nil {
		return
	}

	if _, err := s.mirror.Save(ctx, name, data, contentType); err != nil {
		log.Warn().Err(err).Str("file", name).Msg("failed to mirror file")
	}
}

func logOutcome(log *zerolog.Logger, i int, o model.Outcome) {
	switch o.Status {
	case model.StatusWritten:
		log.Info().Int("row", i).Str("file", o.Task.OutputPath).Msg("wrote")
	case model.StatusExists, model.StatusExistsCorrect:
		log.Info().Int("row", i).Str("file", o.Task.OutputPath).Str("status", string(o.Status)).Msg("skip exists")
	case model.StatusSkipNoSrc:
		log.Info().Int("row", i).Msg("skip no source")
	case model.StatusError:
		log.Warn().Int("row", i).Str("src", o.Task.SourceURL).Str("error", o.Reason).Msg("row failed")
	}
}
