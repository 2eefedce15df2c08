package cache

import (
	"fmt"

	"github.com/aliskhannn/sheet-images/internal/model"
)

// Mode selects how an existing rendition is validated.
type Mode string

const (
	ModeDimensions Mode = "dimensions" // file must decode with the target size
	ModeExists     Mode = "exists"     // presence is enough
)

// ParseMode maps a configuration value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDimensions, ModeExists:
		return m, nil
	default:
		return "", fmt.Errorf("unknown cache mode %q", s)
	}
}

// inspector reads the state of files in the output directory.
type inspector interface {
	Exists(name string) bool
	Dimensions(name string) (int, int, error)
}

// Policy decides whether a rendition has to be rebuilt.
type Policy struct {
	Width  int
	Height int
	Force  bool
	Mode   Mode
}

// NeedsBuild reports whether name must be rebuilt. When it returns false the
// status to record for the cache hit is returned as well.
func (p Policy) NeedsBuild(files inspector, name string) (bool, model.Status) {
	if p.Force || !files.Exists(name) {
		return true, ""
	}

	if p.Mode == ModeExists {
		return false, model.StatusExists
	}

	w, h, err := files.Dimensions(name)
	if err != nil || w != p.Width || h != p.Height {
		return true, ""
	}

	return false, model.StatusExistsCorrect
}
