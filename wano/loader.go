package wano

import (
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/NanomatchGmbH/simstack-sub001/types"
	"github.com/NanomatchGmbH/simstack-sub001/workflow"
)

// Loader instantiates units from template folders.
type Loader struct {
	logger *zap.Logger
}

var _ workflow.UnitLoader = (*Loader)(nil)

// NewLoader creates a loader.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.With(zap.String("component", "wano_loader"))}
}

// LoadUnit implements workflow.UnitLoader.
func (l *Loader) LoadUnit(templateName, dir string) (workflow.ComputeUnit, error) {
	return l.Load(templateName, dir)
}

// Load reads the manifest in dir and returns a unit with default values.
func (l *Loader) Load(templateName, dir string) (*Unit, error) {
	m, err := ReadManifest(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, types.Errorf(types.ErrUnknownLeafType, "no manifest for template %q", templateName).WithPath(dir)
	case err != nil:
		return nil, types.Errorf(types.ErrMalformedDocument, "template %q", templateName).WithPath(dir).WithCause(err)
	}
	l.logger.Debug("unit loaded", zap.String("template", templateName), zap.String("dir", dir))
	return NewUnit(*m, dir), nil
}

// NewLeaf loads the template in dir and creates a detached leaf for it on t.
// The template name is the folder's base name.
func (l *Loader) NewLeaf(t *workflow.Tree, name, dir string) (workflow.NodeID, error) {
	templateName := filepath.Base(filepath.Clean(dir))
	u, err := l.Load(templateName, dir)
	if err != nil {
		return 0, err
	}
	if name == "" {
		name = templateName
	}
	return t.NewLeaf(name, templateName, dir, u), nil
}
