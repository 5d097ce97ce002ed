package wano

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/NanomatchGmbH/simstack-sub001/workflow"
)

// Unit is a compute unit backed by a template folder. Its configuration is
// the set of input values, initialized from the manifest defaults.
type Unit struct {
	manifest Manifest
	dir      string
	values   map[string]string
}

var _ workflow.ComputeUnit = (*Unit)(nil)

// NewUnit creates a unit from a manifest. dir is the template folder.
func NewUnit(m Manifest, dir string) *Unit {
	values := make(map[string]string, len(m.Inputs))
	for k, v := range m.Inputs {
		values[k] = v
	}
	return &Unit{manifest: m, dir: dir, values: values}
}

// Manifest returns the unit's template manifest.
func (u *Unit) Manifest() Manifest { return u.manifest }

// Dir returns the template folder the unit was loaded from.
func (u *Unit) Dir() string { return u.dir }

// Value returns the current value of an input.
func (u *Unit) Value(key string) (string, bool) {
	v, ok := u.values[key]
	return v, ok
}

// Set changes an input declared by the manifest.
func (u *Unit) Set(key, value string) error {
	if _, ok := u.manifest.Inputs[key]; !ok {
		return fmt.Errorf("unit %q has no input %q", u.manifest.Name, key)
	}
	u.values[key] = value
	return nil
}

// renderedInputs is the content of inputs.yaml in a job directory.
type renderedInputs struct {
	Unit         string            `yaml:"unit"`
	Inputs       map[string]string `yaml:"inputs"`
	OutputScopes []string          `yaml:"output_scopes,omitempty"`
	References   []string          `yaml:"references,omitempty"`
}

// Render writes inputs.yaml into jobDir and describes the job.
func (u *Unit) Render(pathList, outputPathList []string, jobDir, stageoutBaseDir string) (workflow.JobDescriptor, *workflow.ExecModule, []string, error) {
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return workflow.JobDescriptor{}, nil, nil, fmt.Errorf("create job directory: %w", err)
	}
	data, err := yaml.Marshal(renderedInputs{
		Unit:         u.manifest.Name,
		Inputs:       u.values,
		OutputScopes: outputPathList,
		References:   pathList,
	})
	if err != nil {
		return workflow.JobDescriptor{}, nil, nil, fmt.Errorf("marshal inputs: %w", err)
	}
	if err := os.WriteFile(filepath.Join(jobDir, InputsFile), data, 0o644); err != nil {
		return workflow.JobDescriptor{}, nil, nil, fmt.Errorf("write inputs: %w", err)
	}

	job := workflow.JobDescriptor{
		Name:       u.manifest.Name,
		Executable: u.manifest.Executable,
		Arguments:  append([]string(nil), u.manifest.Arguments...),
		WorkDir:    jobDir,
	}
	inputs := make(map[string]string, len(u.values))
	for k, v := range u.values {
		inputs[k] = v
	}
	mod := &workflow.ExecModule{
		WaNoName:  u.manifest.Name,
		Command:   strings.TrimSpace(u.manifest.Executable + " " + strings.Join(u.manifest.Arguments, " ")),
		Inputs:    inputs,
		Outputs:   append([]string(nil), u.manifest.Outputs...),
		Resources: u.manifest.Resources,
	}

	next := append(append([]string(nil), pathList...), path.Join(stageoutBaseDir, "outputs"))
	return job, mod, next, nil
}

// OutputFiles implements workflow.ComputeUnit.
func (u *Unit) OutputFiles() []string {
	return append([]string(nil), u.manifest.Outputs...)
}

// VariablePaths implements workflow.ComputeUnit.
func (u *Unit) VariablePaths() []string {
	return append([]string(nil), u.manifest.Variables...)
}

// Save writes the current input values to <folder>/values.yaml.
func (u *Unit) Save(folder string) error {
	keys := make([]string, 0, len(u.values))
	for k := range u.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Value: u.values[k], Style: yaml.DoubleQuotedStyle})
	}
	data, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Errorf("marshal values: %w", err)
	}
	return os.WriteFile(filepath.Join(folder, ValuesFile), data, 0o644)
}

// Read applies <folder>/values.yaml over the current values. A missing file
// leaves the values unchanged; keys the manifest does not declare are ignored.
func (u *Unit) Read(folder string) error {
	data, err := os.ReadFile(filepath.Join(folder, ValuesFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var values map[string]string
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse values: %w", err)
	}
	for k, v := range values {
		if _, ok := u.manifest.Inputs[k]; ok {
			u.values[k] = v
		}
	}
	return nil
}
