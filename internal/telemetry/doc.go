// Package telemetry sets up OpenTelemetry trace export for the simstack
// command. Workflow operations emit spans through the global tracer provider;
// this package decides whether those spans leave the process.
package telemetry
