package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/beevik/etree"
	"gopkg.in/yaml.v3"
)

// RenderedDocumentFile is the file name of the compiled workflow inside a
// submission directory.
const RenderedDocumentFile = "rendered_workflow.xml"

// Document is a compiled workflow ready to hand to the execution engine.
type Document struct {
	Name      string        `json:"name" yaml:"name"`
	SubmitDir string        `json:"submit_dir" yaml:"submit_dir"`
	Graph     CompiledGraph `json:"graph" yaml:"graph"`
}

// ToJSON serializes the document to indented JSON.
func (d *Document) ToJSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// ToYAML serializes the document to YAML.
func (d *Document) ToYAML() ([]byte, error) {
	return yaml.Marshal(d)
}

// ToXML serializes the document into the engine's XML format.
func (d *Document) ToXML() ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("Workflow")
	root.CreateAttr("name", d.Name)
	root.CreateAttr("submit_dir", d.SubmitDir)

	if err := writeGraph(root, d.Graph.Graph); err != nil {
		return nil, err
	}
	writeIDs(root, "ExitIDs", d.Graph.ExitIDs)

	doc.Indent(2)
	return doc.WriteToBytes()
}

// WriteXML writes the XML form of the document to path.
func (d *Document) WriteXML(path string) error {
	data, err := d.ToXML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeGraph(parent *etree.Element, g Graph) error {
	acts := parent.CreateElement("Activities")
	for _, a := range g.Activities {
		if err := writeActivity(acts, a); err != nil {
			return err
		}
	}
	trs := parent.CreateElement("Transitions")
	for _, tr := range g.Transitions {
		el := trs.CreateElement("Transition")
		el.CreateAttr("from", tr.From)
		el.CreateAttr("to", tr.To)
	}
	return nil
}

func writeActivity(parent *etree.Element, a Activity) error {
	el := parent.CreateElement(string(a.Kind))
	el.CreateAttr("id", a.ID())

	switch e := a.Element.(type) {
	case *ExecModule:
		el.CreateAttr("given_name", e.GivenName)
		if e.WaNoName != "" {
			el.CreateAttr("wano_name", e.WaNoName)
		}
		el.CreateAttr("path", e.Path)
		el.CreateAttr("output_path", e.OutputPath)
		if e.Command != "" {
			el.CreateElement("Command").SetText(e.Command)
		}
		if len(e.Inputs) > 0 {
			inputs := el.CreateElement("Inputs")
			keys := make([]string, 0, len(e.Inputs))
			for k := range e.Inputs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				in := inputs.CreateElement("Input")
				in.CreateAttr("name", k)
				in.SetText(e.Inputs[k])
			}
		}
		if len(e.Outputs) > 0 {
			outputs := el.CreateElement("Outputs")
			for _, o := range e.Outputs {
				outputs.CreateElement("Output").SetText(o)
			}
		}
		writeResources(el, e.Resources)
		job := el.CreateElement("Job")
		job.CreateAttr("name", e.Job.Name)
		job.CreateAttr("executable", e.Job.Executable)
		if e.Job.WorkDir != "" {
			job.CreateAttr("work_dir", e.Job.WorkDir)
		}
		for _, arg := range e.Job.Arguments {
			job.CreateElement("Argument").SetText(arg)
		}
	case *IfGraph:
		el.CreateAttr("condition", e.Condition)
		el.CreateAttr("finish_id", e.FinishID)
		if err := writeGraph(el.CreateElement("TrueGraph"), e.TrueGraph); err != nil {
			return err
		}
		if err := writeGraph(el.CreateElement("FalseGraph"), e.FalseGraph); err != nil {
			return err
		}
		writeIDs(el, "TrueFinalIDs", e.TrueFinalIDs)
		writeIDs(el, "FalseFinalIDs", e.FalseFinalIDs)
	case *WhileGraph:
		el.CreateAttr("iterator_name", e.IteratorName)
		el.CreateAttr("condition", e.Condition)
		el.CreateAttr("finish_id", e.FinishID)
		if err := writeGraph(el.CreateElement("Subgraph"), e.Subgraph); err != nil {
			return err
		}
		writeIDs(el, "SubgraphFinalIDs", e.SubgraphFinalIDs)
	case *ForEachGraph:
		el.CreateAttr("iterator_name", e.IteratorName)
		el.CreateAttr("finish_id", e.FinishID)
		switch {
		case e.IteratorDefine != "":
			el.CreateElement("IteratorDefine").SetText(e.IteratorDefine)
		case len(e.IteratorVariables) > 0:
			list := el.CreateElement("IteratorVariables")
			for _, v := range e.IteratorVariables {
				list.CreateElement("Var").SetText(v)
			}
		default:
			list := el.CreateElement("IteratorFiles")
			for _, f := range e.IteratorFiles {
				list.CreateElement("File").SetText(f)
			}
		}
		if err := writeGraph(el.CreateElement("Subgraph"), e.Subgraph); err != nil {
			return err
		}
		writeIDs(el, "SubgraphFinalIDs", e.SubgraphFinalIDs)
	case *VariableElement:
		el.CreateAttr("name", e.Name)
		el.CreateAttr("equation", e.Equation)
	case *Pass:
	default:
		return fmt.Errorf("cannot serialize activity kind %s", a.Kind)
	}
	return nil
}

func writeResources(parent *etree.Element, r Resources) {
	if r.IsZero() {
		return
	}
	el := parent.CreateElement("Resources")
	set := func(key, value string) {
		if value != "" {
			el.CreateAttr(key, value)
		}
	}
	set("queue", r.Queue)
	set("host", r.Host)
	if r.Nodes > 0 {
		set("nodes", strconv.Itoa(r.Nodes))
	}
	if r.CPUsPerNode > 0 {
		set("cpus_per_node", strconv.Itoa(r.CPUsPerNode))
	}
	set("memory", r.Memory)
	set("walltime", r.Walltime)
}

func writeIDs(parent *etree.Element, tag string, ids []string) {
	el := parent.CreateElement(tag)
	for _, id := range ids {
		el.CreateElement("ID").SetText(id)
	}
}
