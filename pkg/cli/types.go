package cli

import (
	"context"

	"imgload/pkg/common"
)

// ExecutionResult is what a command returns to main.
type ExecutionResult = common.ExecutionResult

type Flag struct {
	Name  string
	Short string
	Type  string // "bool", "string"
	Desc  string
}

type Arg struct {
	Name string
	Type string // "string", or "list" to take every remaining argument
	Desc string
}

type Command struct {
	Name     string
	Desc     string
	Args     []*Arg
	Flags    []*Flag
	Subs     []*Command
	Parent   *Command
	Examples []string
}

type Topic struct {
	Name string
	Desc string
	Text string
}

// Invocation is a parsed command line.
type Invocation struct {
	Command *Command
	Args    map[string]string
	Lists   map[string][]string
	Flags   map[string]any
	Global  map[string]any
}

// String returns a string flag, or "" when unset.
func (inv *Invocation) String(name string) string {
	s, _ := inv.Flags[name].(string)
	return s
}

// Bool returns a bool flag.
func (inv *Invocation) Bool(name string) bool {
	b, _ := inv.Flags[name].(bool)
	return b
}

// GlobalString returns a global string flag, or "" when unset.
func (inv *Invocation) GlobalString(name string) string {
	s, _ := inv.Global[name].(string)
	return s
}

// GlobalBool returns a global bool flag.
func (inv *Invocation) GlobalBool(name string) bool {
	b, _ := inv.Global[name].(bool)
	return b
}

type Handler interface {
	Execute(ctx context.Context, inv *Invocation) (*ExecutionResult, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, inv *Invocation) (*ExecutionResult, error)

func (f HandlerFunc) Execute(ctx context.Context, inv *Invocation) (*ExecutionResult, error) {
	return f(ctx, inv)
}
