package cli

import (
	"fmt"
	"slices"
)

// scope is the block the next statement attaches to.
type scope int

const (
	scopeGlobal scope = iota
	scopeCommand
	scopeTopic
)

func (s scope) String() string {
	switch s {
	case scopeCommand:
		return "cmd"
	case scopeTopic:
		return "topic"
	default:
		return "global"
	}
}

// statement parses one keyword and its operands. in lists the scopes the
// keyword may appear in.
type statement struct {
	in    []scope
	parse func(p *parser) error
}

var statements = map[string]statement{
	"global":  {in: []scope{scopeGlobal, scopeCommand, scopeTopic}, parse: (*parser).parseGlobal},
	"cmd":     {in: []scope{scopeGlobal, scopeCommand, scopeTopic}, parse: (*parser).parseCommand},
	"topic":   {in: []scope{scopeGlobal, scopeCommand, scopeTopic}, parse: (*parser).parseTopic},
	"flag":    {in: []scope{scopeGlobal, scopeCommand}, parse: (*parser).parseFlag},
	"arg":     {in: []scope{scopeCommand}, parse: (*parser).parseArg},
	"example": {in: []scope{scopeCommand}, parse: (*parser).parseExample},
	"text":    {in: []scope{scopeTopic}, parse: (*parser).parseText},
}

// Mutable
type parser struct {
	lex    *lexer
	tok    token
	engine *Engine
	scope  scope
	cmd    *Command
	topic  *Topic
}

func newParser(dsl string, engine *Engine) *parser {
	p := &parser{
		lex:    newLexer(dsl),
		engine: engine,
	}
	p.next()
	return p
}

func (p *parser) next() {
	p.tok = p.lex.nextToken()
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("line %d: "+format, append([]any{p.tok.line}, args...)...)
}

// parse reads every statement, then checks the finished command tree.
func (p *parser) parse() error {
	for p.tok.kind != tokEOF {
		if p.tok.kind == tokError {
			return p.errorf("%s", p.tok.value)
		}
		if p.tok.kind != tokIdentifier {
			return p.errorf("expected keyword, got %q", p.tok.value)
		}
		st, ok := statements[p.tok.value]
		if !ok {
			return p.errorf("unknown keyword %q", p.tok.value)
		}
		if !slices.Contains(st.in, p.scope) {
			return p.errorf("'%s' is not allowed in %s scope", p.tok.value, p.scope)
		}
		if err := st.parse(p); err != nil {
			return err
		}
	}
	return p.validate()
}

func (p *parser) ident(what string) (string, error) {
	if p.tok.kind != tokIdentifier {
		return "", p.errorf("expected %s", what)
	}
	v := p.tok.value
	p.next()
	return v, nil
}

func (p *parser) str(what string) (string, error) {
	if p.tok.kind != tokString {
		return "", p.errorf("expected %s", what)
	}
	v := p.tok.value
	p.next()
	return v, nil
}

func (p *parser) parseGlobal() error {
	p.next()
	p.scope, p.cmd, p.topic = scopeGlobal, nil, nil
	return nil
}

// parseCommand handles "cmd <name>... [desc]". Every word but the last must
// name a command declared earlier.
func (p *parser) parseCommand() error {
	p.next()
	var path []string
	for p.tok.kind == tokIdentifier {
		path = append(path, p.tok.value)
		p.next()
	}
	if len(path) == 0 {
		return p.errorf("expected command name or path")
	}
	desc := ""
	if p.tok.kind == tokString {
		desc = p.tok.value
		p.next()
	}

	list := &p.engine.Commands
	var parent *Command
	for _, name := range path[:len(path)-1] {
		i := slices.IndexFunc(*list, func(c *Command) bool { return c.Name == name })
		if i < 0 {
			return p.errorf("parent command %q of %q is not declared", name, path[len(path)-1])
		}
		parent = (*list)[i]
		list = &parent.Subs
	}

	name := path[len(path)-1]
	if slices.ContainsFunc(*list, func(c *Command) bool { return c.Name == name }) {
		return p.errorf("command %q declared twice", name)
	}
	cmd := &Command{Name: name, Desc: desc, Parent: parent}
	*list = append(*list, cmd)

	p.scope, p.cmd, p.topic = scopeCommand, cmd, nil
	return nil
}

// parseFlag handles "flag <name> bool|string <desc> [short <c>]".
func (p *parser) parseFlag() error {
	p.next()
	name, err := p.ident("flag name")
	if err != nil {
		return err
	}
	fType, err := p.ident("flag type")
	if err != nil {
		return err
	}
	if fType != "bool" && fType != "string" {
		return p.errorf("unknown flag type %q", fType)
	}
	desc, err := p.str("flag description")
	if err != nil {
		return err
	}
	f := &Flag{Name: name, Type: fType, Desc: desc}

	if p.tok.kind == tokIdentifier && p.tok.value == "short" {
		p.next()
		if f.Short, err = p.ident("short name after 'short'"); err != nil {
			return err
		}
		if len(f.Short) != 1 {
			return p.errorf("short name %q must be a single character", f.Short)
		}
	}

	// Command flags share the command line with the global ones.
	taken := p.engine.GlobalFlags
	if p.cmd != nil {
		taken = append(slices.Clip(taken), p.cmd.Flags...)
	}
	for _, o := range taken {
		if o.Name == f.Name || (f.Short != "" && o.Short == f.Short) {
			return p.errorf("flag %q clashes with --%s", f.Name, o.Name)
		}
	}

	if p.cmd == nil {
		p.engine.GlobalFlags = append(p.engine.GlobalFlags, f)
	} else {
		p.cmd.Flags = append(p.cmd.Flags, f)
	}
	return nil
}

// parseArg handles "arg <name> string|list <desc>". A list arg takes the rest
// of the command line, so it must be the last one.
func (p *parser) parseArg() error {
	p.next()
	name, err := p.ident("arg name")
	if err != nil {
		return err
	}
	aType, err := p.ident("arg type")
	if err != nil {
		return err
	}
	if aType != "string" && aType != "list" {
		return p.errorf("unknown arg type %q", aType)
	}
	desc, err := p.str("arg description")
	if err != nil {
		return err
	}
	for _, a := range p.cmd.Args {
		if a.Name == name {
			return p.errorf("argument %q declared twice", name)
		}
		if a.Type == "list" {
			return p.errorf("argument %q follows list argument %q", name, a.Name)
		}
	}
	p.cmd.Args = append(p.cmd.Args, &Arg{Name: name, Type: aType, Desc: desc})
	return nil
}

func (p *parser) parseExample() error {
	p.next()
	ex, err := p.str("example string")
	if err != nil {
		return err
	}
	p.cmd.Examples = append(p.cmd.Examples, ex)
	return nil
}

func (p *parser) parseTopic() error {
	p.next()
	name, err := p.ident("topic name")
	if err != nil {
		return err
	}
	desc, err := p.str("topic description")
	if err != nil {
		return err
	}
	t := &Topic{Name: name, Desc: desc}
	p.engine.Topics = append(p.engine.Topics, t)
	p.scope, p.cmd, p.topic = scopeTopic, nil, t
	return nil
}

func (p *parser) parseText() error {
	p.next()
	if p.topic.Text != "" {
		return p.errorf("topic %q already has text", p.topic.Name)
	}
	text, err := p.str("text string")
	if err != nil {
		return err
	}
	p.topic.Text = text
	return nil
}

// validate rejects trees the engine cannot dispatch: a command with
// subcommands never receives its own args or flags.
func (p *parser) validate() error {
	var walk func(cmds []*Command) error
	walk = func(cmds []*Command) error {
		for _, c := range cmds {
			if len(c.Subs) > 0 && (len(c.Args) > 0 || len(c.Flags) > 0) {
				return fmt.Errorf("command %s has subcommands and cannot take args or flags", getCmdPath(c))
			}
			if err := walk(c.Subs); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(p.engine.Commands); err != nil {
		return err
	}
	for _, t := range p.engine.Topics {
		if t.Text == "" {
			return fmt.Errorf("topic %s has no text", t.Name)
		}
	}
	return nil
}
