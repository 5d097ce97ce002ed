/*
Package main is the simstack command line tool.

# Overview

simstack loads a workflow folder written by the editor and works on it
without a GUI: render compiles the workflow into a fresh submission
directory, inspect lists the variable and file references the workflow
exposes, and version prints build information.

Configuration follows config.NewLoader: defaults, an optional YAML file
passed with --config, then SIMSTACK_* environment variables.
*/
package main
