// Package common provides shared types and utilities used across imgload.
// It includes the source and size definitions that identify a load, the
// error taxonomy, and execution results used between the CLI and managers.
package common

// ExecutionResult represents the outcome of an imgload command.
type ExecutionResult struct {
	// ExitCode is the status code the process should exit with.
	ExitCode int
	// Output is rendered by the display when not nil.
	Output *Output
}

// Output is structured command output rendered by a display.
type Output struct {
	Message string
	KV      []KV
	Table   *Table
}

// KV is a single labelled value.
type KV struct {
	Key   string
	Value string
}

// Table is a simple header plus rows grid.
type Table struct {
	Header []string
	Rows   [][]string
}
