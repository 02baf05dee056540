package cli

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokError tokenKind = iota
	tokEOF
	tokIdentifier
	tokString
)

type token struct {
	kind  tokenKind
	value string
	line  int
}

// Mutable
type lexer struct {
	input string
	pos   int
	line  int
}

func newLexer(input string) *lexer {
	return &lexer{
		input: input,
		line:  1,
	}
}

func (l *lexer) nextToken() token {
	l.skipWhitespaceAndComments()

	if l.pos >= len(l.input) {
		return token{kind: tokEOF, line: l.line}
	}

	b := l.input[l.pos]
	if b == '"' {
		return l.readString()
	}
	if isAlphaNumeric(b) {
		return l.readIdentifier()
	}

	l.pos++
	return token{kind: tokError, value: fmt.Sprintf("unexpected character: %c", b), line: l.line}
}

func (l *lexer) skipWhitespaceAndComments() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case '\n':
			l.line++
			l.pos++
		case ' ', '\t', '\r', '\f', '\v':
			l.pos++
		case '#':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func (l *lexer) readIdentifier() token {
	start := l.pos
	for l.pos < len(l.input) {
		b := l.input[l.pos]
		if !isAlphaNumeric(b) && b != '_' && b != '-' {
			break
		}
		l.pos++
	}
	return token{kind: tokIdentifier, value: l.input[start:l.pos], line: l.line}
}

func (l *lexer) readString() token {
	l.pos++
	if strings.HasPrefix(l.input[l.pos:], `""`) {
		l.pos += 2
		return l.readMultilineString()
	}
	start := l.pos
	for l.pos < len(l.input) && l.input[l.pos] != '"' {
		if l.input[l.pos] == '\n' {
			return token{kind: tokError, value: "newline in string", line: l.line}
		}
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokError, value: "unterminated string", line: l.line}
	}
	val := l.input[start:l.pos]
	l.pos++
	return token{kind: tokString, value: val, line: l.line}
}

func (l *lexer) readMultilineString() token {
	startLine := l.line
	end := strings.Index(l.input[l.pos:], `"""`)
	if end < 0 {
		return token{kind: tokError, value: "unterminated multiline string", line: startLine}
	}
	raw := l.input[l.pos : l.pos+end]
	l.line += strings.Count(raw, "\n")
	l.pos += end + 3
	return token{kind: tokString, value: dedent(raw), line: startLine}
}

// dedent drops leading and trailing blank lines and the common indentation.
func dedent(s string) string {
	lines := strings.Split(s, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	indent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	for i, line := range lines {
		if len(line) >= indent && indent > 0 {
			lines[i] = line[indent:]
		}
	}
	return strings.Join(lines, "\n")
}

func isAlphaNumeric(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
