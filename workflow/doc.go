/*
Package workflow compiles and persists scientific workflows.

# Overview

A workflow is an authoring tree of control constructs around opaque compute
units. The tree is stored in an id-addressed arena (Tree); every node is owned
by exactly one parent SubWorkflow or control construct, and the Parent field is
a lookup-only back reference.

# Core types

  - Tree: node arena with insertion, renaming, removal and lookup
  - Node: one WaNo leaf or control construct (SubWorkflow, If, While,
    ForEach, AdvancedFor, Parallel, Variable)
  - ComputeUnit: the leaf contract for rendering and persistence
  - Compiler: renders a subtree into a CompiledGraph of activities and
    transitions plus the exit ids a successor attaches to
  - PathAssembler: lists the variable and file references of a subtree
  - Serializer: reads and writes the versioned workflow document
  - Root: the editing session entry point with events, metrics and spans

# Compilation

Leaves become WorkflowExecModule activities. If, While and ForEach compile
their bodies once into embedded subgraphs seeded with ConnectorID and emit a
control activity followed by a WFPass whose id is the single exit. Parallel
fans every branch out from the same parents and exits on the union of the
branch exits. Top-level graphs start from StartID.

# Persistence

Documents live at <folder>/<folder>.xml. Version 2.0 stores each template
once under wanos/<template> and per-instance settings under
wano_configurations/<uuid>. Documents without a version attribute are read
with the 1.0 layout, where every leaf owns wanos/<uuid>.
*/
package workflow
