package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/NanomatchGmbH/simstack-sub001/internal/fsutil"
	"github.com/NanomatchGmbH/simstack-sub001/types"
)

// On-disk layout of a workflow folder.
const (
	TemplatesDir      = "wanos"
	ConfigurationsDir = "wano_configurations"
	SubmittedDir      = "Submitted"
	DeltaFile         = "delta.yaml"
)

// Document versions. A missing version attribute means VersionLegacy.
const (
	VersionLegacy  = "1.0"
	VersionCurrent = "2.0"
	VersionAttr    = "wfxml_version"
)

const (
	tagRoot    = "root"
	tagLeaf    = "WaNo"
	tagControl = "WFControl"
)

// DocumentPath returns <folder>/<name>.xml, where name is the folder's base name.
func DocumentPath(folder string) string {
	return filepath.Join(folder, filepath.Base(filepath.Clean(folder))+".xml")
}

// deltaDocument references the shared template a leaf instance derives from.
type deltaDocument struct {
	Template string `yaml:"template"`
	UUID     string `yaml:"uuid"`
	Name     string `yaml:"name"`
}

// Serializer converts a Tree to and from the workflow document format.
type Serializer struct {
	loader UnitLoader
	logger *zap.Logger
}

// NewSerializer creates a serializer. loader instantiates leaves on read.
func NewSerializer(loader UnitLoader, logger *zap.Logger) *Serializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Serializer{
		loader: loader,
		logger: logger.With(zap.String("component", "serializer")),
	}
}

// ============================================================
// Save
// ============================================================

// Save writes the tree into folder: the workflow document, one shared template
// folder per template name, and one configuration folder per leaf instance.
// Leaves already materialized before a failure stay on disk.
func (s *Serializer) Save(t *Tree, folder string) error {
	for _, dir := range []string{TemplatesDir, ConfigurationsDir} {
		if err := os.MkdirAll(filepath.Join(folder, dir), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(tagRoot)
	root.CreateAttr(VersionAttr, VersionCurrent)

	if err := s.saveChildren(t, t.Root(), root, folder); err != nil {
		return err
	}

	doc.Indent(2)
	path := DocumentPath(folder)
	if err := doc.WriteToFile(path); err != nil {
		return fmt.Errorf("write workflow document %s: %w", path, err)
	}
	s.logger.Debug("workflow saved", zap.String("document", path))
	return nil
}

func (s *Serializer) saveChildren(t *Tree, parent NodeID, el *etree.Element, folder string) error {
	for i, cid := range t.Children(parent) {
		if err := s.saveNode(t, cid, el, folder, i); err != nil {
			return err
		}
	}
	return nil
}

func (s *Serializer) saveNode(t *Tree, id NodeID, parent *etree.Element, folder string, index int) error {
	n := t.MustNode(id)
	if n.IsLeaf() {
		if err := s.materialize(n, folder); err != nil {
			return err
		}
		el := parent.CreateElement(tagLeaf)
		el.CreateAttr("type", n.TemplateName)
		el.CreateAttr("name", n.Name)
		el.CreateAttr("uuid", n.UUID)
		el.CreateAttr("id", strconv.Itoa(index))
		return nil
	}

	el := parent.CreateElement(tagControl)
	el.CreateAttr("name", n.Name)
	el.CreateAttr("type", string(n.Kind))

	switch n.Kind {
	case KindSubWorkflow:
		return s.saveChildren(t, id, el, folder)
	case KindIf:
		el.CreateAttr("condition", n.Condition)
		trueID, falseID := t.Branches(id)
		if err := s.saveBranch(t, trueID, el, folder, "true"); err != nil {
			return err
		}
		return s.saveBranch(t, falseID, el, folder, "false")
	case KindWhile:
		el.CreateAttr("condition", n.Condition)
		el.CreateElement("IterName").SetText(n.IterName)
		return s.saveBranch(t, t.Body(id), el, folder, "")
	case KindForEach:
		el.CreateElement("IterName").SetText(n.IterName)
		el.CreateAttr("iterator_type", string(n.Source))
		listTag, itemTag := "FileList", "File"
		if n.Source == IterateVariables {
			listTag, itemTag = "VarList", "Var"
		}
		list := el.CreateElement(listTag)
		for _, item := range n.Items {
			list.CreateElement(itemTag).SetText(item)
		}
		return s.saveBranch(t, t.Body(id), el, folder, "")
	case KindAdvancedForEach:
		el.CreateElement("IterName").SetText(n.IterName)
		el.CreateElement("IterDefine").SetText(n.DefineString)
		return s.saveBranch(t, t.Body(id), el, folder, "")
	case KindParallel:
		for _, branch := range n.Children {
			if err := s.saveBranch(t, branch, el, folder, ""); err != nil {
				return err
			}
		}
		return nil
	case KindVariable:
		el.CreateAttr("equation", n.Equation)
		return nil
	}
	return types.Errorf(types.ErrUnknownConstruct, "cannot save node kind %q", n.Kind)
}

func (s *Serializer) saveBranch(t *Tree, branch NodeID, parent *etree.Element, folder, marker string) error {
	b := t.MustNode(branch)
	el := parent.CreateElement(tagControl)
	el.CreateAttr("name", b.Name)
	el.CreateAttr("type", string(KindSubWorkflow))
	if marker != "" {
		el.CreateAttr("branch", marker)
	}
	return s.saveChildren(t, branch, el, folder)
}

// materialize makes sure the leaf's template lives in <folder>/wanos and writes
// the per-instance configuration and delta document.
func (s *Serializer) materialize(n *Node, folder string) error {
	templatesRoot := filepath.Join(folder, TemplatesDir)
	target := filepath.Join(templatesRoot, n.TemplateName)
	logger := s.logger.With(zap.String("leaf", n.Name), zap.String("template", n.TemplateName))

	switch {
	case n.TemplateName == "":
		return types.Errorf(types.ErrUnknownLeafType, "leaf %q has no template name", n.Name)
	case samePath(n.TemplateDir, target):
	case !fsutil.Exists(target):
		if !fsutil.IsDir(n.TemplateDir) {
			return types.Errorf(types.ErrUnknownLeafType, "template source of leaf %q is missing", n.Name).WithPath(n.TemplateDir)
		}
		if err := fsutil.CopyDir(n.TemplateDir, target); err != nil {
			return types.Errorf(types.ErrInstantiationConflict, "copy template %q", n.TemplateName).WithPath(target).WithCause(err)
		}
		logger.Info("template instantiated", zap.String("target", target))
	case isWithin(n.TemplateDir, templatesRoot):
		// Legacy per-instance folder of this workflow; its settings travel
		// through the configuration folder.
	default:
		same, err := fsutil.SameTree(n.TemplateDir, target)
		if err != nil {
			return types.Errorf(types.ErrInstantiationConflict, "compare template %q", n.TemplateName).WithPath(target).WithCause(err)
		}
		if !same {
			return types.Errorf(types.ErrInstantiationConflict,
				"folder already holds a different template %q", n.TemplateName).WithPath(target)
		}
	}

	cfgDir := filepath.Join(folder, ConfigurationsDir, n.UUID)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("create configuration folder: %w", err)
	}
	if err := n.Unit.Save(cfgDir); err != nil {
		return fmt.Errorf("save leaf %q configuration: %w", n.Name, err)
	}
	data, err := yaml.Marshal(deltaDocument{Template: n.TemplateName, UUID: n.UUID, Name: n.Name})
	if err != nil {
		return fmt.Errorf("marshal delta document: %w", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, DeltaFile), data, 0o644); err != nil {
		return fmt.Errorf("write delta document: %w", err)
	}

	n.TemplateDir = target
	return nil
}

// ============================================================
// Read
// ============================================================

// Read replaces the tree's content with the workflow stored in folder and
// returns the document version it was read with.
func (s *Serializer) Read(t *Tree, folder string) (string, error) {
	path := DocumentPath(folder)
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return "", types.NewError(types.ErrMalformedDocument, "read workflow document").WithPath(path).WithCause(err)
	}
	root := doc.Root()
	if root == nil || root.Tag != tagRoot {
		return "", types.NewError(types.ErrMalformedDocument, "missing <root> element").WithPath(path)
	}

	version := root.SelectAttrValue(VersionAttr, VersionLegacy)
	if version != VersionLegacy && version != VersionCurrent {
		return "", types.Errorf(types.ErrMalformedDocument, "unsupported document version %q", version).WithPath(path)
	}

	t.Clear()
	for _, el := range root.ChildElements() {
		if _, err := s.ReadElement(t, t.Root(), folder, version, el); err != nil {
			return "", err
		}
	}
	s.logger.Debug("workflow read", zap.String("document", path), zap.String("version", version))
	return version, nil
}

// ReadElement reconstructs the node described by el and inserts it into the
// SubWorkflow parent.
func (s *Serializer) ReadElement(t *Tree, parent NodeID, folder, version string, el *etree.Element) (NodeID, error) {
	var (
		id  NodeID
		err error
	)
	switch el.Tag {
	case tagLeaf:
		id, err = s.readLeaf(t, folder, version, el)
	case tagControl:
		id, err = s.readControl(t, folder, version, el)
	default:
		return 0, types.Errorf(types.ErrUnknownConstruct, "unknown element <%s>", el.Tag)
	}
	if err != nil {
		return 0, err
	}
	if _, err := t.Insert(parent, id, -1); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Serializer) readChildren(t *Tree, parent NodeID, folder, version string, el *etree.Element) error {
	for _, child := range el.ChildElements() {
		if _, err := s.ReadElement(t, parent, folder, version, child); err != nil {
			return err
		}
	}
	return nil
}

func (s *Serializer) readLeaf(t *Tree, folder, version string, el *etree.Element) (NodeID, error) {
	templateName := el.SelectAttrValue("type", "")
	name := el.SelectAttrValue("name", templateName)
	instance := el.SelectAttrValue("uuid", "")
	if instance == "" {
		return 0, types.Errorf(types.ErrMalformedDocument, "leaf %q has no uuid", name)
	}

	var (
		dir    string
		cfgDir string
	)
	instanceDir := filepath.Join(folder, TemplatesDir, instance)
	if version == VersionLegacy {
		// The instance folder holds both the template and its settings.
		dir, cfgDir = instanceDir, instanceDir
	} else {
		cfgDir = filepath.Join(folder, ConfigurationsDir, instance)
		delta, err := readDelta(cfgDir)
		switch {
		case errors.Is(err, os.ErrNotExist) && fsutil.IsDir(instanceDir):
			s.logger.Warn("delta document missing, reading legacy instance folder",
				zap.String("leaf", name), zap.String("uuid", instance))
			dir, cfgDir = instanceDir, instanceDir
		case errors.Is(err, os.ErrNotExist):
			s.logger.Warn("delta document missing, using template defaults",
				zap.String("leaf", name), zap.String("uuid", instance))
			cfgDir = ""
		case err != nil:
			return 0, types.Errorf(types.ErrMalformedDocument, "leaf %q delta document", name).WithPath(cfgDir).WithCause(err)
		case delta.Template != "":
			templateName = delta.Template
		}
		if dir == "" {
			dir = filepath.Join(folder, TemplatesDir, templateName)
		}
	}

	if !fsutil.IsDir(dir) {
		return 0, types.Errorf(types.ErrUnknownLeafType, "no template folder for leaf %q of type %q", name, templateName).WithPath(dir)
	}
	unit, err := s.loader.LoadUnit(templateName, dir)
	if err != nil {
		return 0, fmt.Errorf("load leaf %q: %w", name, err)
	}
	if cfgDir != "" {
		if err := unit.Read(cfgDir); err != nil {
			return 0, fmt.Errorf("read leaf %q configuration: %w", name, err)
		}
	}

	id := t.NewLeaf(name, templateName, dir, unit)
	t.MustNode(id).UUID = instance
	return id, nil
}

func readDelta(cfgDir string) (*deltaDocument, error) {
	data, err := os.ReadFile(filepath.Join(cfgDir, DeltaFile))
	if err != nil {
		return nil, err
	}
	var delta deltaDocument
	if err := yaml.Unmarshal(data, &delta); err != nil {
		return nil, err
	}
	return &delta, nil
}

func (s *Serializer) readControl(t *Tree, folder, version string, el *etree.Element) (NodeID, error) {
	id, err := t.NewControl(el.SelectAttrValue("type", ""), el.SelectAttrValue("name", ""))
	if err != nil {
		return 0, err
	}
	n := t.MustNode(id)

	switch n.Kind {
	case KindSubWorkflow:
		err = s.readChildren(t, id, folder, version, el)
	case KindIf:
		n.Condition = el.SelectAttrValue("condition", "")
		trueID, falseID := t.Branches(id)
		branches := subWorkflowElements(el)
		for i, b := range branches {
			target := trueID
			if b.SelectAttrValue("branch", "") == "false" || (b.SelectAttr("branch") == nil && i == 1) {
				target = falseID
			}
			if err = s.readChildren(t, target, folder, version, b); err != nil {
				break
			}
		}
	case KindWhile:
		n.Condition = el.SelectAttrValue("condition", "")
		n.IterName = childText(el, "IterName")
		err = s.readBody(t, id, folder, version, el)
	case KindForEach:
		n.IterName = childText(el, "IterName")
		n.Source = IterationSource(el.SelectAttrValue("iterator_type", string(IterateFiles)))
		if list := el.SelectElement("VarList"); list != nil {
			n.Source = IterateVariables
			n.Items = childTexts(list, "Var")
		} else if list := el.SelectElement("FileList"); list != nil {
			n.Source = IterateFiles
			n.Items = childTexts(list, "File")
		}
		err = s.readBody(t, id, folder, version, el)
	case KindAdvancedForEach:
		n.IterName = childText(el, "IterName")
		n.DefineString = childText(el, "IterDefine")
		err = s.readBody(t, id, folder, version, el)
	case KindParallel:
		for _, b := range subWorkflowElements(el) {
			branch, berr := t.AddBranch(id)
			if berr != nil {
				err = berr
				break
			}
			if name := b.SelectAttrValue("name", ""); name != "" {
				t.MustNode(branch).Name = name
			}
			if err = s.readChildren(t, branch, folder, version, b); err != nil {
				break
			}
		}
	case KindVariable:
		n.Equation = el.SelectAttrValue("equation", "")
	}
	if err != nil {
		_ = t.Delete(id)
		return 0, err
	}
	return id, nil
}

func (s *Serializer) readBody(t *Tree, id NodeID, folder, version string, el *etree.Element) error {
	branches := subWorkflowElements(el)
	if len(branches) == 0 {
		return nil
	}
	return s.readChildren(t, t.Body(id), folder, version, branches[0])
}

func subWorkflowElements(el *etree.Element) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.SelectElements(tagControl) {
		if c.SelectAttrValue("type", "") == string(KindSubWorkflow) {
			out = append(out, c)
		}
	}
	return out
}

func childText(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

func childTexts(el *etree.Element, tag string) []string {
	var out []string
	for _, c := range el.SelectElements(tag) {
		out = append(out, strings.TrimSpace(c.Text()))
	}
	return out
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}

// isWithin reports whether path lies strictly inside dir.
func isWithin(path, dir string) bool {
	if path == "" {
		return false
	}
	ap, err1 := filepath.Abs(path)
	ad, err2 := filepath.Abs(dir)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(ad, ap)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}
