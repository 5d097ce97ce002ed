package workflow

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/NanomatchGmbH/simstack-sub001/types"
)

const (
	testManifestFile = "manifest.yaml"
	testSettingsFile = "settings.yaml"
)

// testManifest is the template description read by testLoader.
type testManifest struct {
	Variables []string `yaml:"variables"`
	Outputs   []string `yaml:"outputs"`
	Payload   string   `yaml:"payload,omitempty"`
}

// renderCall records the arguments of one mockUnit.Render call.
type renderCall struct {
	PathList       []string
	OutputPathList []string
	JobDir         string
	Stageout       string
}

type mockUnit struct {
	template  string
	variables []string
	outputs   []string
	resources Resources
	settings  map[string]string
	renderErr error
	calls     []renderCall
	readFrom  []string
}

func newMockUnit(template string, variables, outputs []string) *mockUnit {
	return &mockUnit{
		template:  template,
		variables: variables,
		outputs:   outputs,
		settings:  map[string]string{},
	}
}

func (u *mockUnit) Render(pathList, outputPathList []string, jobDir, stageout string) (JobDescriptor, *ExecModule, []string, error) {
	u.calls = append(u.calls, renderCall{
		PathList:       append([]string(nil), pathList...),
		OutputPathList: append([]string(nil), outputPathList...),
		JobDir:         jobDir,
		Stageout:       stageout,
	})
	if u.renderErr != nil {
		return JobDescriptor{}, nil, nil, u.renderErr
	}
	mod := &ExecModule{WaNoName: u.template, Resources: u.resources}
	next := append(append([]string(nil), pathList...), path.Join(stageout, "outputs"))
	return JobDescriptor{Name: u.template, Executable: u.template + ".sh"}, mod, next, nil
}

func (u *mockUnit) OutputFiles() []string   { return u.outputs }
func (u *mockUnit) VariablePaths() []string { return u.variables }

func (u *mockUnit) Save(folder string) error {
	data, err := yaml.Marshal(u.settings)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(folder, testSettingsFile), data, 0o644)
}

func (u *mockUnit) Read(folder string) error {
	u.readFrom = append(u.readFrom, folder)
	data, err := os.ReadFile(filepath.Join(folder, testSettingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, &u.settings)
}

// testLoader loads mockUnits from folders written by writeTemplate.
func testLoader() UnitLoader {
	return UnitLoaderFunc(func(templateName, dir string) (ComputeUnit, error) {
		data, err := os.ReadFile(filepath.Join(dir, testManifestFile))
		if errors.Is(err, os.ErrNotExist) {
			return nil, types.Errorf(types.ErrUnknownLeafType, "no manifest for %q", templateName)
		}
		if err != nil {
			return nil, err
		}
		var m testManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return newMockUnit(templateName, m.Variables, m.Outputs), nil
	})
}

// writeTemplate creates a template folder <root>/<name> and returns it.
func writeTemplate(t *testing.T, root, name string, m testManifest) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := yaml.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, testManifestFile), data, 0o644))
	return dir
}

// addLeaf creates a leaf backed by a mockUnit and inserts it into parent.
func addLeaf(t *testing.T, tree *Tree, parent NodeID, name string, variables, outputs []string) NodeID {
	t.Helper()
	id := tree.NewLeaf(name, name, "", newMockUnit(name, variables, outputs))
	_, err := tree.Insert(parent, id, -1)
	require.NoError(t, err)
	return id
}

// addTemplateLeaf creates a leaf for a template folder and inserts it into parent.
func addTemplateLeaf(t *testing.T, tree *Tree, parent NodeID, name, templateDir string) NodeID {
	t.Helper()
	template := filepath.Base(templateDir)
	unit, err := testLoader().LoadUnit(template, templateDir)
	require.NoError(t, err)
	id := tree.NewLeaf(name, template, templateDir, unit)
	_, err = tree.Insert(parent, id, -1)
	require.NoError(t, err)
	return id
}

func insert(t *testing.T, tree *Tree, parent, id NodeID) NodeID {
	t.Helper()
	_, err := tree.Insert(parent, id, -1)
	require.NoError(t, err)
	return id
}

func sequentialIDs(prefix string) IDGenerator {
	return &SequenceGenerator{Prefix: prefix}
}

func activityIDs(g Graph) []string {
	ids := make([]string, 0, len(g.Activities))
	for _, a := range g.Activities {
		ids = append(ids, a.ID())
	}
	return ids
}

func activitiesOfKind(g Graph, kind ActivityKind) []Activity {
	var out []Activity
	for _, a := range g.Activities {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func incoming(g Graph, id string) []string {
	var from []string
	for _, tr := range g.Transitions {
		if tr.To == id {
			from = append(from, tr.From)
		}
	}
	return from
}

// writeSettings stores mockUnit settings in folder.
func writeSettings(t *testing.T, folder string, settings map[string]string) {
	t.Helper()
	data, err := yaml.Marshal(settings)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(folder, testSettingsFile), data, 0o644))
}
