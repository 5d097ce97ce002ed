package workflow

// ComputeUnit is the opaque leaf a WorkflowNode wraps. Implementations own
// their configuration format and the files written into a job directory.
type ComputeUnit interface {
	// Render writes the unit's inputs into jobDir and returns the job
	// descriptor, the activity the execution engine runs, and pathList
	// extended by whatever the unit contributes.
	Render(pathList, outputPathList []string, jobDir, stageoutBaseDir string) (JobDescriptor, *ExecModule, []string, error)
	// OutputFiles lists output file paths relative to the unit's output dir.
	OutputFiles() []string
	// VariablePaths lists the variables the unit exposes to later nodes.
	VariablePaths() []string
	// Save persists the per-instance configuration into folder.
	Save(folder string) error
	// Read applies a configuration previously written by Save.
	Read(folder string) error
}

// UnitLoader instantiates a ComputeUnit from a template folder on disk.
type UnitLoader interface {
	LoadUnit(templateName, dir string) (ComputeUnit, error)
}

// UnitLoaderFunc adapts a function to UnitLoader.
type UnitLoaderFunc func(templateName, dir string) (ComputeUnit, error)

// LoadUnit implements UnitLoader.
func (f UnitLoaderFunc) LoadUnit(templateName, dir string) (ComputeUnit, error) {
	return f(templateName, dir)
}

// JobDescriptor describes how a compute unit is launched.
type JobDescriptor struct {
	Name       string   `json:"name" yaml:"name"`
	Executable string   `json:"executable" yaml:"executable"`
	Arguments  []string `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	WorkDir    string   `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
}

// Resources are the scheduler requirements of one exec module.
type Resources struct {
	Queue       string `json:"queue,omitempty" yaml:"queue,omitempty"`
	Host        string `json:"host,omitempty" yaml:"host,omitempty"`
	Nodes       int    `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	CPUsPerNode int    `json:"cpus_per_node,omitempty" yaml:"cpus_per_node,omitempty"`
	Memory      string `json:"memory,omitempty" yaml:"memory,omitempty"`
	Walltime    string `json:"walltime,omitempty" yaml:"walltime,omitempty"`
}

// IsZero reports whether no requirement is set.
func (r Resources) IsZero() bool {
	return r == Resources{}
}
