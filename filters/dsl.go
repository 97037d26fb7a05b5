// Package filters implements the stateful event-stream transforms a device
// chain applies before listener fan-out, and the small DSL used to declare
// them in device configuration, e.g.
//
//	moving_window(length=5, knot=center, fields=[gazeX, gazeY])
package filters

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var specLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t]+`},
	{Name: "String", Pattern: `"(\\"|[^"])*"`},
	{Name: "Number", Pattern: `[-+]?(\d*\.)?\d+`},
	{Name: "Ident", Pattern: `[a-zA-Z_][\w]*`},
	{Name: "Punct", Pattern: `[(),=\[\]]`},
})

var specParser = participle.MustBuild[Spec](
	participle.Lexer(specLexer),
	participle.Elide("Whitespace"),
	participle.Unquote("String"),
)

// Spec is one parsed filter declaration: a filter name and its named
// arguments.
type Spec struct {
	Name string `parser:"@Ident"`
	Args []Arg  `parser:"('(' (@@ (',' @@)*)? ')')?"`
}

type Arg struct {
	Name  string `parser:"@Ident '='"`
	Value Value  `parser:"@@"`
}

type Value struct {
	Number *float64 `parser:"@Number |"`
	String *string  `parser:"(@String | @Ident) |"`
	List   []string `parser:"'[' (@Ident | @String) (',' (@Ident | @String))* ']'"`
}

// Parse parses a filter declaration string.
func Parse(spec string) (Spec, error) {
	result, err := specParser.ParseString("", spec)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid filter spec %q: %w", spec, err)
	}
	return *result, nil
}

// Config renders the parsed arguments as a plain map, the form the filter
// registry's JSON creators consume.
func (s Spec) Config() map[string]any {
	out := make(map[string]any, len(s.Args))
	for _, arg := range s.Args {
		switch {
		case arg.Value.Number != nil:
			out[arg.Name] = *arg.Value.Number
		case arg.Value.String != nil:
			out[arg.Name] = *arg.Value.String
		case arg.Value.List != nil:
			out[arg.Name] = arg.Value.List
		}
	}
	return out
}
