/*
Package wano implements workflow compute units backed by template folders.

A template folder carries a wano.yaml manifest naming the executable, the
declared inputs with their defaults, the variables and output files the unit
exposes to later workflow nodes, and optional scheduler resources. Per-instance
input values are saved to values.yaml in the instance's configuration folder.
Rendering writes inputs.yaml into the job directory.
*/
package wano
