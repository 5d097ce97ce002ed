package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/NanomatchGmbH/simstack-sub001/internal/metrics"
	"github.com/NanomatchGmbH/simstack-sub001/types"
)

var renderTime = time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

// fakeClock advances only when sleep is called.
type fakeClock struct {
	now    time.Time
	step   time.Duration
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(c.step)
}

func newTestRoot(t *testing.T, folder string, opts ...RootOption) *Root {
	t.Helper()
	base := []RootOption{
		WithLogger(zaptest.NewLogger(t)),
		WithCompilerOptions(WithCompilerIDs(sequentialIDs("act"))),
	}
	return NewRoot(folder, testLoader(), append(base, opts...)...)
}

func addRootLeaf(t *testing.T, r *Root, parent NodeID, name, templateDir string) NodeID {
	t.Helper()
	template := filepath.Base(templateDir)
	unit, err := testLoader().LoadUnit(template, templateDir)
	require.NoError(t, err)
	id := r.Tree().NewLeaf(name, template, templateDir, unit)
	_, err = r.AddElementTo(parent, id, -1)
	require.NoError(t, err)
	return id
}

func TestRoot_Render(t *testing.T) {
	lib := t.TempDir()
	opt := writeTemplate(t, lib, "Opt", testManifest{})
	require.NoError(t, os.MkdirAll(filepath.Join(opt, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(opt, "bin", "run.sh"), []byte("#!/bin/sh\n"), 0o755))
	folder := filepath.Join(t.TempDir(), "Flow")
	clock := &fakeClock{now: renderTime, step: time.Second}
	r := newTestRoot(t, folder, WithClock(clock.Now, clock.Sleep))

	addRootLeaf(t, r, r.Tree().Root(), "A", opt)
	loop := r.Tree().NewWhile("Loop", "c", "i")
	_, err := r.AddElement(loop, -1)
	require.NoError(t, err)
	addRootLeaf(t, r, r.Tree().Body(loop), "B", opt)

	kind, dir, doc, err := r.Render(context.Background(), "", Resources{Queue: "short"})
	require.NoError(t, err)

	assert.Equal(t, SubmitKindWorkflow, kind)
	assert.Equal(t, filepath.Join(folder, SubmittedDir, "2024-03-01-12h30m45s-Flow"), dir)
	assert.Equal(t, dir, r.SubmitDir())
	assert.DirExists(t, filepath.Join(dir, WorkingDataDir))
	assert.FileExists(t, filepath.Join(dir, RenderedDocumentFile))
	assert.Empty(t, clock.sleeps)

	require.NotNil(t, doc)
	assert.Equal(t, "Flow", doc.Name)
	assert.Equal(t, dir, doc.SubmitDir)
	require.Len(t, doc.Graph.Activities, 3)
	a := doc.Graph.Activities[0].Element.(*ExecModule)
	assert.Equal(t, Resources{Queue: "short"}, a.Resources)
	assert.Equal(t, []string{StartID}, incoming(doc.Graph.Graph, a.ID))

	leafB := r.Tree().Leaves()[1].Unit.(*mockUnit)
	require.Len(t, leafB.calls, 1)
	assert.Equal(t, filepath.Join(dir, WorkingDataDir, "Loop", "${i}_ITER", "B"), leafB.calls[0].JobDir)

	// each job directory holds a copy of its template
	for _, jobDir := range []string{filepath.Join(dir, WorkingDataDir, "A"), leafB.calls[0].JobDir} {
		assert.FileExists(t, filepath.Join(jobDir, testManifestFile))
		assert.FileExists(t, filepath.Join(jobDir, "bin", "run.sh"))
	}

	xml := etree.NewDocument()
	require.NoError(t, xml.ReadFromFile(filepath.Join(dir, RenderedDocumentFile)))
	assert.Equal(t, "Flow", xml.Root().SelectAttrValue("name", ""))
}

func TestRoot_RenderGivenName(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "Flow")
	clock := &fakeClock{now: renderTime}
	r := newTestRoot(t, folder, WithClock(clock.Now, clock.Sleep))

	_, dir, doc, err := r.Render(context.Background(), "run7", Resources{})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01-12h30m45s-run7", filepath.Base(dir))
	assert.Empty(t, doc.Graph.Activities)
	assert.Equal(t, []string{StartID}, doc.Graph.ExitIDs)
}

func TestRoot_RenderRetriesOnCollision(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "Flow")
	taken := filepath.Join(folder, SubmittedDir, "2024-03-01-12h30m45s-Flow")
	require.NoError(t, os.MkdirAll(taken, 0o755))

	clock := &fakeClock{now: renderTime, step: time.Second}
	r := newTestRoot(t, folder, WithClock(clock.Now, clock.Sleep))

	_, dir, _, err := r.Render(context.Background(), "", Resources{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(folder, SubmittedDir, "2024-03-01-12h30m46s-Flow"), dir)
	assert.Equal(t, []time.Duration{time.Second}, clock.sleeps)
}

func TestRoot_RenderGivesUpAfterAttempts(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "Flow")
	require.NoError(t, os.MkdirAll(filepath.Join(folder, SubmittedDir, "2024-03-01-12h30m45s-Flow"), 0o755))

	clock := &fakeClock{now: renderTime}
	r := newTestRoot(t, folder,
		WithClock(clock.Now, clock.Sleep),
		WithSubmitRetry(3, 50*time.Millisecond))

	kind, dir, doc, err := r.Render(context.Background(), "", Resources{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrSubmitDirExists))
	assert.Empty(t, kind)
	assert.Empty(t, dir)
	assert.Nil(t, doc)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, clock.sleeps)
	assert.Empty(t, r.SubmitDir())
}

func TestRoot_RenderLeafFailure(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "Flow")
	clock := &fakeClock{now: renderTime}
	r := newTestRoot(t, folder, WithClock(clock.Now, clock.Sleep))

	leaf := r.Tree().NewLeaf("Bad", "Bad", "", &mockUnit{renderErr: assert.AnError})
	_, err := r.AddElement(leaf, -1)
	require.NoError(t, err)

	_, _, _, err = r.Render(context.Background(), "", Resources{})
	assert.True(t, types.IsCode(err, types.ErrRenderFailed))
	assert.ErrorIs(t, err, assert.AnError)
}

// Two leaves share template Opt; the folder goes away with the last one.
func TestRoot_RemoveElementDeletesOrphanedTemplate(t *testing.T) {
	lib := t.TempDir()
	opt := writeTemplate(t, lib, "Opt", testManifest{})
	calc := writeTemplate(t, lib, "Calc", testManifest{})
	folder := filepath.Join(t.TempDir(), "Flow")
	reg := prometheus.NewRegistry()
	r := newTestRoot(t, folder, WithMetrics(metrics.NewCollector("test", reg, nil)))

	first := addRootLeaf(t, r, r.Tree().Root(), "Opt", opt)
	sub := r.Tree().NewSubWorkflow("Block")
	_, err := r.AddElement(sub, -1)
	require.NoError(t, err)
	second := addRootLeaf(t, r, sub, "Opt", opt)
	addRootLeaf(t, r, r.Tree().Root(), "Calc", calc)
	require.NoError(t, r.SaveToDisk(context.Background()))

	optDir := filepath.Join(folder, TemplatesDir, "Opt")
	require.DirExists(t, optDir)

	require.NoError(t, r.RemoveElement(first))
	assert.DirExists(t, optDir, "still referenced inside Block")

	require.NoError(t, r.RemoveElement(sub))
	assert.NoDirExists(t, optDir)
	assert.DirExists(t, filepath.Join(folder, TemplatesDir, "Calc"))
	_, ok := r.Tree().Node(second)
	assert.False(t, ok)

	assert.Equal(t, 1.0, gatheredValue(t, reg, "test_workflow_templates_deleted_total", nil))
	assert.Equal(t, 2.0, gatheredValue(t, reg, "test_workflow_element_mutations_total", map[string]string{"kind": "removed"}))

	err = r.RemoveElement(first)
	assert.True(t, types.IsCode(err, types.ErrNodeNotFound))
}

func TestRoot_RemoveUnsavedElement(t *testing.T) {
	lib := t.TempDir()
	opt := writeTemplate(t, lib, "Opt", testManifest{})
	r := newTestRoot(t, filepath.Join(t.TempDir(), "Flow"))
	id := addRootLeaf(t, r, r.Tree().Root(), "Opt", opt)

	require.NoError(t, r.RemoveElement(id))
	assert.DirExists(t, opt, "template sources outside the workflow are untouched")
}

func TestRoot_RemoveBranchOfIfIsRejected(t *testing.T) {
	lib := t.TempDir()
	opt := writeTemplate(t, lib, "Opt", testManifest{Variables: []string{"e"}})
	r := newTestRoot(t, filepath.Join(t.TempDir(), "Flow"))
	cond := r.Tree().NewIf("Check", "x")
	_, err := r.AddElement(cond, -1)
	require.NoError(t, err)
	trueID, _ := r.Tree().Branches(cond)
	addRootLeaf(t, r, trueID, "Opt", opt)

	err = r.RemoveElement(trueID)
	assert.True(t, types.IsCode(err, types.ErrInvalidTree), "got %v", err)
	assert.Len(t, r.Tree().Children(cond), 2)
	assert.Equal(t, []string{"Check.True.Opt.e"}, r.AssembleVariables())

	_, _, _, err = r.Render(context.Background(), "", Resources{})
	assert.NoError(t, err)
}

func TestRoot_EventsAndDirtyFlag(t *testing.T) {
	lib := t.TempDir()
	opt := writeTemplate(t, lib, "Opt", testManifest{Variables: []string{"e"}, Outputs: []string{"o.txt"}})
	folder := filepath.Join(t.TempDir(), "Flow")

	var events []Event
	r := newTestRoot(t, folder, WithListener(ListenerFunc(func(e Event) { events = append(events, e) })))
	assert.False(t, r.Session().Dirty())

	a := addRootLeaf(t, r, r.Tree().Root(), "Opt", opt)
	b := addRootLeaf(t, r, r.Tree().Root(), "Opt", opt)
	assert.True(t, r.Session().Dirty())

	name, err := r.RenameElement(b, "Opt")
	require.NoError(t, err)
	assert.Equal(t, "Opt_1", name)

	assert.Equal(t, []string{"Opt.e", "Opt_1.e"}, r.AssembleVariables())
	assert.Equal(t, []string{"Opt/outputs/o.txt", "Opt_1/outputs/o.txt"}, r.AssembleFiles())
	found, ok := r.Find("Opt_1")
	require.True(t, ok)
	assert.Equal(t, b, found)

	require.NoError(t, r.SaveToDisk(context.Background()))
	assert.False(t, r.Session().Dirty())

	require.NoError(t, r.RemoveElement(a))
	require.NoError(t, r.ReadFromDisk(context.Background()))
	assert.False(t, r.Session().Dirty())
	assert.Len(t, r.Tree().Leaves(), 2, "reading restores the saved state")

	var kinds []EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EventKind{EventAdded, EventAdded, EventRenamed, EventSaved, EventRemoved, EventLoaded}, kinds)
	assert.Equal(t, "Opt_1", events[1].Name)
	assert.Equal(t, "Opt", events[4].Path)
}

func TestRoot_ReadFailureKeepsTree(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "Flow")
	reg := prometheus.NewRegistry()
	r := newTestRoot(t, folder, WithMetrics(metrics.NewCollector("test", reg, nil)))
	_, err := r.AddElement(r.Tree().NewVariable("x", "1"), -1)
	require.NoError(t, err)
	before := r.Tree()

	err = r.ReadFromDisk(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrMalformedDocument))
	assert.Same(t, before, r.Tree())
	assert.True(t, r.Session().Dirty())
	assert.Equal(t, 1.0, gatheredValue(t, reg, "test_workflow_loads_total",
		map[string]string{"version": "unknown", "status": "error"}))
}

func TestRoot_SaveAndLoadRoundTrip(t *testing.T) {
	lib := t.TempDir()
	opt := writeTemplate(t, lib, "Opt", testManifest{})
	folder := filepath.Join(t.TempDir(), "Flow")
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, nil)

	r := newTestRoot(t, folder, WithMetrics(collector))
	cond := r.Tree().NewIf("Check", "${x}")
	_, err := r.AddElement(cond, -1)
	require.NoError(t, err)
	trueID, _ := r.Tree().Branches(cond)
	addRootLeaf(t, r, trueID, "Opt", opt)
	require.NoError(t, r.SaveToDisk(context.Background()))

	loaded := newTestRoot(t, folder, WithMetrics(collector))
	require.NoError(t, loaded.ReadFromDisk(context.Background()))
	leaves := loaded.Tree().Leaves()
	require.Len(t, leaves, 1)
	assert.Equal(t, "Check/True/Opt", loaded.Tree().Path(leaves[0].ID))

	assert.Equal(t, 1.0, gatheredValue(t, reg, "test_workflow_saves_total", map[string]string{"status": "success"}))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "test_workflow_loads_total",
		map[string]string{"version": VersionCurrent, "status": "success"}))
}

func TestRoot_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	folder := filepath.Join(t.TempDir(), "Flow")
	clock := &fakeClock{now: renderTime}
	r := newTestRoot(t, folder, WithTracer(provider.Tracer("test")), WithClock(clock.Now, clock.Sleep))

	_, _, _, err := r.Render(context.Background(), "", Resources{})
	require.NoError(t, err)
	require.Error(t, r.ReadFromDisk(context.Background()))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "workflow.render", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "workflow.load", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.NotEmpty(t, spans[1].Events(), "error recorded on the span")
}

func TestRoot_Name(t *testing.T) {
	r := NewRoot("/data/flows/MyFlow/", testLoader())
	assert.Equal(t, "MyFlow", r.Name())
	assert.Equal(t, "/data/flows/MyFlow/", r.Folder())
}

// gatheredValue returns the value of the counter name whose labels include
// want.
func gatheredValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := make(map[string]string)
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			match := true
			for k, v := range want {
				if labels[k] != v {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, want)
	return 0
}
