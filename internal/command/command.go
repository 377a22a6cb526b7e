// Package command turns a job's command line into a shell-safe string.
//
// Raw tokens can only reach a CommandString through Escape, so there is no
// path that concatenates unescaped input into what the shell sees.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

var ErrCommandShape = errors.New("command shape rejected")

// RawToken is untrusted text taken from a job definition
type RawToken string

// EscapedToken is a single shell word. Only Escape creates one.
type EscapedToken struct {
	word string
}

// CommandString is a full command line made only of escaped tokens
type CommandString struct {
	line string
}

func Escape(t RawToken) EscapedToken {
	word := shellquote.Join(string(t))
	// shellquote leaves a leading '#' alone, which sh reads as a comment
	if strings.HasPrefix(word, "#") {
		word = `\` + word
	}
	return EscapedToken{word: word}
}

func Join(tokens ...EscapedToken) CommandString {
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.word
	}
	return CommandString{line: strings.Join(words, " ")}
}

func (t EscapedToken) String() string {
	return t.word
}

func (c CommandString) String() string {
	return c.line
}

func (c CommandString) Empty() bool {
	return c.line == ""
}

// Interpreter is the allow-listed script interpreter. Name is what job
// definitions must spell (case-insensitive); Binary is what gets executed.
type Interpreter struct {
	Name   string
	Binary string
}

// Line is a tokenized command line of the form <interpreter> <script> [arg]*
type Line struct {
	Interpreter string
	Script      string
	Args        []string
}

// Parse tokenizes line on whitespace and validates its shape
func (in Interpreter) Parse(line string) (Line, error) {
	tokens := strings.Fields(line)
	switch len(tokens) {
	case 0:
		return Line{}, fmt.Errorf("%w: empty command", ErrCommandShape)
	case 1:
		return Line{}, fmt.Errorf("%w: missing script after %q", ErrCommandShape, tokens[0])
	}

	if in.Name == "" || !strings.EqualFold(tokens[0], in.Name) {
		return Line{}, fmt.Errorf("%w: interpreter %q not allowed", ErrCommandShape, tokens[0])
	}

	return Line{
		Interpreter: tokens[0],
		Script:      tokens[1],
		Args:        tokens[2:],
	}, nil
}

func (in Interpreter) binary() string {
	if in.Binary != "" {
		return in.Binary
	}
	return in.Name
}

// Invocation is a command whose script path has passed sandbox validation
type Invocation struct {
	interpreter RawToken
	script      RawToken
	args        []RawToken
}

// NewInvocation binds the allow-listed interpreter binary to a canonical
// script path and its arguments
func (in Interpreter) NewInvocation(canonicalScript string, args []string) Invocation {
	raw := make([]RawToken, len(args))
	for i, a := range args {
		raw[i] = RawToken(a)
	}
	return Invocation{
		interpreter: RawToken(in.binary()),
		script:      RawToken(canonicalScript),
		args:        raw,
	}
}

func (i Invocation) Script() string {
	return string(i.script)
}

// Command synthesizes the shell command for the invocation
func (i Invocation) Command() CommandString {
	return Build(i.interpreter, i.script, i.args)
}

// Build escapes every token independently and joins them with single spaces
func Build(interpreter, script RawToken, argv []RawToken) CommandString {
	tokens := make([]EscapedToken, 0, len(argv)+2)
	tokens = append(tokens, Escape(interpreter), Escape(script))
	for _, a := range argv {
		tokens = append(tokens, Escape(a))
	}
	return Join(tokens...)
}
