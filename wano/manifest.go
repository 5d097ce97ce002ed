package wano

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/NanomatchGmbH/simstack-sub001/workflow"
)

// File names inside template and configuration folders.
const (
	ManifestFile = "wano.yaml"
	ValuesFile   = "values.yaml"
	InputsFile   = "inputs.yaml"
)

// Manifest describes a compute unit template.
type Manifest struct {
	Name       string             `yaml:"name" validate:"required"`
	Executable string             `yaml:"executable" validate:"required"`
	Arguments  []string           `yaml:"arguments,omitempty"`
	Variables  []string           `yaml:"variables,omitempty" validate:"omitempty,dive,required"`
	Outputs    []string           `yaml:"outputs,omitempty" validate:"omitempty,dive,required"`
	Inputs     map[string]string  `yaml:"inputs,omitempty" validate:"omitempty,dive,keys,required,endkeys"`
	Resources  workflow.Resources `yaml:"resources,omitempty"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func manifestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks the manifest for required fields.
func (m *Manifest) Validate() error {
	err := manifestValidator().Struct(m)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid manifest: %s", strings.Join(msgs, ", "))
}

// ReadManifest reads and validates <dir>/wano.yaml.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteManifest writes m to <dir>/wano.yaml.
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644)
}
