package language

import (
	"bytes"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Print renders doc back into GraphQL source text. The output parses to an
// equivalent document.
func Print(doc *QueryDocument) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String()
}

// SelectOperation returns the operation named by name, or the only operation
// of doc when name is empty.
func SelectOperation(doc *QueryDocument, name string) (*OperationDefinition, error) {
	if name == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0], nil
		}
		return nil, fmt.Errorf("operation name is required when the document contains %d operations", len(doc.Operations))
	}
	if op := doc.Operations.ForName(name); op != nil {
		return op, nil
	}
	return nil, fmt.Errorf("unknown operation %q", name)
}

// Narrow returns a shallow copy of doc holding op as its only operation.
// Fragment definitions are shared with doc.
func Narrow(doc *QueryDocument, op *OperationDefinition) *QueryDocument {
	return &QueryDocument{
		Operations: OperationList{op},
		Fragments:  doc.Fragments,
		Position:   doc.Position,
	}
}

// ArgumentValues evaluates the arguments of field against vars.
func ArgumentValues(field *Field, vars map[string]any) (map[string]any, error) {
	if len(field.Arguments) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(field.Arguments))
	for _, arg := range field.Arguments {
		v, err := arg.Value.Value(vars)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg.Name, err)
		}
		out[arg.Name] = v
	}
	return out, nil
}
