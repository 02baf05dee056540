package cli

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

//go:embed cli.def
var DefaultDSL string

// Mutable
type Engine struct {
	GlobalFlags []*Flag
	Commands    []*Command
	Topics      []*Topic
	Handlers    map[string]Handler
	Theme       *Theme
	Out         io.Writer
}

func NewEngine(dsl string) (*Engine, error) {
	e := &Engine{
		Handlers: make(map[string]Handler),
		Theme:    DefaultTheme(),
		Out:      os.Stdout,
	}
	if err := e.parseDSL(dsl); err != nil {
		return nil, err
	}
	e.Commands = append(e.Commands, &Command{
		Name: "help",
		Desc: "Show help information",
	})
	return e, nil
}

func (e *Engine) Register(cmdPath string, h Handler) {
	e.Handlers[cmdPath] = h
}

func (e *Engine) parseDSL(dsl string) error {
	p := newParser(dsl, e)
	return p.parse()
}

type ParseResult struct {
	Invocation *Invocation
	Help       bool
	HelpArgs   []string
	Error      error
}

// helpRequest is returned by resolve when the command line asks for help
// rather than naming a runnable command.
type helpRequest struct {
	args []string
}

func (h *helpRequest) Error() string {
	return "help requested for " + strings.Join(h.args, " ")
}

func (e *Engine) Run(ctx context.Context, args []string) (*ExecutionResult, error) {
	res := e.Parse(args)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.Help {
		e.PrintHelp(res.HelpArgs...)
		return &ExecutionResult{ExitCode: 0}, nil
	}
	return e.Execute(ctx, res.Invocation)
}

func (e *Engine) Parse(args []string) *ParseResult {
	res := &ParseResult{
		Invocation: newInvocation(),
	}
	var remaining []string
	// Parse global flags and help
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--help" || arg == "-h" {
			res.Help = true
			continue
		}
		consumed, err := matchFlag(e.GlobalFlags, args, &i, res.Invocation.Global)
		if err != nil {
			res.Error = err
			return res
		}
		if !consumed {
			remaining = append(remaining, arg)
		}
	}

	if res.Help {
		res.HelpArgs = remaining
		return res
	}

	if len(remaining) == 0 {
		res.Help = true
		return res
	}

	inv, err := e.resolve(res.Invocation, e.Commands, remaining, true)
	if err != nil {
		var help *helpRequest
		if errors.As(err, &help) {
			res.Help = true
			res.HelpArgs = help.args
			return res
		}
		res.Error = err
		return res
	}
	res.Invocation = inv
	return res
}

func newInvocation() *Invocation {
	return &Invocation{
		Args:   make(map[string]string),
		Lists:  make(map[string][]string),
		Flags:  make(map[string]any),
		Global: make(map[string]any),
	}
}

// matchFlag consumes args[*i] (and its value) if it names one of flags.
// Both "--name value" and "--name=value" are accepted.
func matchFlag(flags []*Flag, args []string, i *int, into map[string]any) (bool, error) {
	arg := args[*i]
	if !strings.HasPrefix(arg, "-") {
		return false, nil
	}
	name, value, hasValue := strings.Cut(arg, "=")
	for _, f := range flags {
		if name != "--"+f.Name && (f.Short == "" || name != "-"+f.Short) {
			continue
		}
		switch f.Type {
		case "bool":
			if hasValue {
				into[f.Name] = value == "true" || value == "1"
			} else {
				into[f.Name] = true
			}
		case "string":
			if hasValue {
				into[f.Name] = value
			} else if *i+1 < len(args) {
				into[f.Name] = args[*i+1]
				*i++
			} else {
				return false, fmt.Errorf("flag %s needs a value", name)
			}
		}
		return true, nil
	}
	return false, nil
}

func (e *Engine) Execute(ctx context.Context, inv *Invocation) (*ExecutionResult, error) {
	path := getCmdPath(inv.Command)
	if h, ok := e.Handlers[path]; ok {
		return h.Execute(ctx, inv)
	}
	return nil, fmt.Errorf("no handler registered for command: %s", path)
}

func (e *Engine) resolve(inv *Invocation, cmds []*Command, args []string, top bool) (*Invocation, error) {
	word := args[0]
	// Command match
	var matches []*Command
	for _, c := range cmds {
		if c.Name == word {
			matches = []*Command{c}
			break
		}
		if strings.HasPrefix(c.Name, word) {
			matches = append(matches, c)
		}
	}
	if len(matches) > 1 {
		var names []string
		for _, m := range matches {
			names = append(names, m.Name)
		}
		return nil, fmt.Errorf("ambiguous command: %s (candidates: %s)", word, strings.Join(names, ", "))
	}
	if len(matches) == 1 {
		cmd := matches[0]
		if cmd.Name == "help" {
			return nil, &helpRequest{args: args[1:]}
		}
		currArgs := args[1:]
		if len(currArgs) > 0 && (currArgs[0] == "--help" || currArgs[0] == "-h") {
			return nil, &helpRequest{args: pathWords(cmd)}
		}
		if len(cmd.Subs) > 0 {
			if len(currArgs) == 0 {
				return nil, &helpRequest{args: pathWords(cmd)}
			}
			subInv, err := e.resolve(inv, cmd.Subs, currArgs, false)
			var unknown *unknownCommand
			if errors.As(err, &unknown) {
				return nil, &helpRequest{args: pathWords(cmd)}
			}
			return subInv, err
		}
		inv.Command = cmd
		if err := e.parseParams(inv, cmd, currArgs); err != nil {
			return nil, err
		}
		return inv, nil
	}
	// Omitted parent support
	if top {
		var subMatches []*Command
		for _, c := range cmds {
			for _, s := range c.Subs {
				if s.Name == word || strings.HasPrefix(s.Name, word) {
					subMatches = append(subMatches, s)
				}
			}
		}
		if len(subMatches) > 1 {
			var names []string
			for _, m := range subMatches {
				names = append(names, getCmdPath(m))
			}
			return nil, fmt.Errorf("ambiguous command: %s (candidates: %s)", word, strings.Join(names, ", "))
		}
		if len(subMatches) == 1 {
			s := subMatches[0]
			inv.Command = s
			if err := e.parseParams(inv, s, args[1:]); err != nil {
				return nil, err
			}
			return inv, nil
		}
	}
	return nil, &unknownCommand{word: word}
}

type unknownCommand struct {
	word string
}

func (u *unknownCommand) Error() string {
	return "unknown command: " + u.word
}

func (e *Engine) parseParams(inv *Invocation, cmd *Command, args []string) error {
	argIdx := 0
	positional := func(v string) error {
		if argIdx >= len(cmd.Args) {
			return fmt.Errorf("unexpected argument: %s", v)
		}
		a := cmd.Args[argIdx]
		if a.Type == "list" {
			inv.Lists[a.Name] = append(inv.Lists[a.Name], v)
			return nil
		}
		inv.Args[a.Name] = v
		argIdx++
		return nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			for _, rest := range args[i+1:] {
				if err := positional(rest); err != nil {
					return err
				}
			}
			break
		}
		consumed, err := matchFlag(cmd.Flags, args, &i, inv.Flags)
		if err != nil {
			return err
		}
		if consumed {
			continue
		}
		if strings.HasPrefix(arg, "-") && len(arg) > 1 {
			return fmt.Errorf("unknown flag %s for %s", arg, getCmdPath(cmd))
		}
		if err := positional(arg); err != nil {
			return err
		}
	}

	// Check for missing required arguments
	for ; argIdx < len(cmd.Args); argIdx++ {
		a := cmd.Args[argIdx]
		if a.Type == "list" {
			if len(inv.Lists[a.Name]) == 0 {
				return fmt.Errorf("argument %s is missing", a.Name)
			}
			continue
		}
		return fmt.Errorf("argument %s is missing", a.Name)
	}
	return nil
}

func (e *Engine) PrintHelp(args ...string) {
	t := e.Theme
	w := e.Out
	if len(args) > 0 {
		subject := args[0]
		for _, topic := range e.Topics {
			if topic.Name == subject || strings.HasPrefix(topic.Name, subject) {
				e.PrintTopicHelp(topic)
				return
			}
		}
		// Find command in hierarchy
		curr := e.Commands
		var found *Command
		for _, arg := range args {
			var match *Command
			for _, c := range curr {
				if c.Name == arg || strings.HasPrefix(c.Name, arg) {
					match = c
					break
				}
			}
			if match == nil {
				break
			}
			found = match
			curr = match.Subs
		}
		if found != nil {
			e.PrintCommandHelp(found)
			return
		}
	}
	fmt.Fprintf(w, "%s\n", t.Styled(t.Cyan.Bold(true), "imgload - image loading and caching"))
	fmt.Fprintf(w, "\n%s\n", t.Styled(t.Bold, "Usage:"))
	fmt.Fprintf(w, "  imgload %s\n", t.Styled(t.Yellow, "[flags] <command>"))
	fmt.Fprintf(w, "\n%s\n", t.Styled(t.Bold, "Global Flags:"))
	fmt.Fprintf(w, "  %-12s %s\n", t.Styled(t.Cyan, "--help, -h"), t.Styled(t.Dim, "Show help [command | topic]"))
	for _, f := range e.GlobalFlags {
		short := ""
		if f.Short != "" {
			short = ", -" + f.Short
		}
		fmt.Fprintf(w, "  %-12s %s\n", t.Styled(t.Cyan, "--"+f.Name+short), t.Styled(t.Dim, f.Desc))
	}
	categories := []struct {
		name string
		icon string
		cmds []string
	}{
		{"LOAD", t.IconLoad, []string{"fetch", "page"}},
		{"CACHE", t.IconDisk, []string{"cache"}},
	}
	shown := make(map[string]bool)
	fmt.Fprintln(w)
	for _, cat := range categories {
		var cmds []*Command
		for _, name := range cat.cmds {
			for _, c := range e.Commands {
				if c.Name == name {
					cmds = append(cmds, c)
					shown[c.Name] = true
				}
			}
		}
		if len(cmds) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", cat.icon, t.Styled(t.Bold, cat.name))
		for i, c := range cmds {
			e.printCommandTree(c, "", i == len(cmds)-1)
		}
		fmt.Fprintln(w)
	}
	var misc []*Command
	for _, c := range e.Commands {
		if !shown[c.Name] && c.Name != "help" {
			misc = append(misc, c)
		}
	}
	if len(misc) > 0 {
		fmt.Fprintf(w, "%s %s\n", t.Bullet, t.Styled(t.Bold, "MISC"))
		for i, c := range misc {
			e.printCommandTree(c, "", i == len(misc)-1)
		}
		fmt.Fprintln(w)
	}
	if len(e.Topics) > 0 {
		fmt.Fprintf(w, "%s %s\n", t.IconHelp, t.Styled(t.Bold, "Topics:"))
		for _, topic := range e.Topics {
			name := t.Styled(t.Cyan, topic.Name)
			padding := e.getPadding(topic.Name, 20)
			fmt.Fprintf(w, "  %s %s %s\n", name, padding, t.Styled(t.Dim, topic.Desc))
		}
	}
	fmt.Fprintf(w, "\nType '%s' for more details.\n", t.Styled(t.Yellow, "imgload help <command>"))
}

func (e *Engine) getPadding(name string, target int) string {
	t := e.Theme
	dots := target - len(name)
	if dots < 2 {
		dots = 2
	}
	return t.Styled(t.Dim, strings.Repeat(".", dots))
}

func (e *Engine) printCommandTree(c *Command, indent string, isLast bool) {
	t := e.Theme
	prefix := t.BoxTree
	if isLast {
		prefix = t.BoxLast
	}
	namePart := indent + prefix + " " + t.Styled(t.Cyan, c.Name)
	// Padding is computed on the visible width: box prefix plus one space.
	visualLen := len([]rune(indent)) + 4 + len(c.Name)
	padding := e.getPadding(strings.Repeat(" ", visualLen), 30)
	fmt.Fprintf(e.Out, "%s %s %s\n", namePart, padding, t.Styled(t.Dim, c.Desc))
	newIndent := indent
	if isLast {
		newIndent += "    "
	} else {
		newIndent += t.BoxItem + " "
	}
	for i, s := range c.Subs {
		e.printCommandTree(s, newIndent, i == len(c.Subs)-1)
	}
}

func (e *Engine) PrintCommandHelp(c *Command) {
	t := e.Theme
	w := e.Out
	fmt.Fprintf(w, "\n%s %s\n", t.Styled(t.Bold, "Command:"), t.Styled(t.Cyan, strings.Join(pathWords(c), " ")))
	fmt.Fprintf(w, "%s %s\n", t.Styled(t.Bold, "Description:"), t.Styled(t.Dim, c.Desc))
	fmt.Fprintln(w)
	if len(c.Subs) > 0 {
		fmt.Fprintf(w, "%s\n", t.Styled(t.Bold, "Subcommands:"))
		for i, s := range c.Subs {
			prefix := t.BoxTree
			if i == len(c.Subs)-1 {
				prefix = t.BoxLast
			}
			fmt.Fprintf(w, "  %s %-12s %s\n", prefix, t.Styled(t.Cyan, s.Name), t.Styled(t.Dim, s.Desc))
		}
		fmt.Fprintln(w)
	}
	if len(c.Args) > 0 {
		fmt.Fprintf(w, "%s\n", t.Styled(t.Bold, "Arguments:"))
		for _, a := range c.Args {
			name := "<" + a.Name + ">"
			if a.Type == "list" {
				name += "..."
			}
			fmt.Fprintf(w, "  %-15s %s\n", t.Styled(t.Yellow, name), t.Styled(t.Dim, a.Desc))
		}
		fmt.Fprintln(w)
	}
	if len(c.Flags) > 0 {
		fmt.Fprintf(w, "%s\n", t.Styled(t.Bold, "Flags:"))
		for _, f := range c.Flags {
			short := ""
			if f.Short != "" {
				short = ", -" + f.Short
			}
			fmt.Fprintf(w, "  %-15s %s\n", t.Styled(t.Cyan, "--"+f.Name+short), t.Styled(t.Dim, f.Desc))
		}
		fmt.Fprintln(w)
	}
	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "%s\n", t.Styled(t.Bold, "Examples:"))
		for _, ex := range c.Examples {
			fmt.Fprintf(w, "  %s %s\n", t.Styled(t.Green, "$"), ex)
		}
		fmt.Fprintln(w)
	}
}

func (e *Engine) PrintTopicHelp(topic *Topic) {
	t := e.Theme
	fmt.Fprintf(e.Out, "\n%s %s\n", t.Styled(t.Bold, "Topic:"), t.Styled(t.Cyan, topic.Name))
	fmt.Fprintf(e.Out, "%s %s\n", t.Styled(t.Bold, "Description:"), t.Styled(t.Dim, topic.Desc))
	fmt.Fprintln(e.Out)
	fmt.Fprintf(e.Out, "%s\n\n", topic.Text)
}

func getCmdPath(c *Command) string {
	return strings.Join(pathWords(c), "/")
}

func pathWords(c *Command) []string {
	if c.Parent == nil {
		return []string{c.Name}
	}
	return append(pathWords(c.Parent), c.Name)
}
