package schema

import (
	"fmt"
	"os"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// BuildFromSDL parses and validates sdl and returns the corresponding Schema.
func BuildFromSDL(sdl string) (*Schema, error) {
	return build(&ast.Source{Name: "schema.graphql", Input: sdl})
}

// BuildFromFile reads an SDL file and builds its Schema.
func BuildFromFile(path string) (*Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return build(&ast.Source{Name: path, Input: string(b)})
}

func build(src *ast.Source) (*Schema, error) {
	doc, err := gqlparser.LoadSchema(src)
	if err != nil {
		return nil, err
	}
	return BuildFromAST(doc), nil
}

// BuildFromAST converts a validated gqlparser schema. Built-in and
// introspection types are left out.
func BuildFromAST(doc *ast.Schema) *Schema {
	s := &Schema{Types: make(map[string]*Type, len(doc.Types))}
	if doc.Query != nil {
		s.QueryType = doc.Query.Name
	}
	if doc.Mutation != nil {
		s.MutationType = doc.Mutation.Name
	}
	if doc.Subscription != nil {
		s.SubscriptionType = doc.Subscription.Name
	}
	for name, def := range doc.Types {
		if def.BuiltIn || strings.HasPrefix(name, "__") {
			continue
		}
		s.Types[name] = buildType(def)
	}
	return s
}

func buildType(def *ast.Definition) *Type {
	t := &Type{
		Name:        def.Name,
		Kind:        TypeKind(def.Kind),
		Description: def.Description,
	}
	switch def.Kind {
	case ast.Object, ast.Interface:
		t.Interfaces = append(t.Interfaces, def.Interfaces...)
		for _, fd := range def.Fields {
			if strings.HasPrefix(fd.Name, "__") {
				continue
			}
			t.Fields = append(t.Fields, buildField(fd))
		}
	case ast.Union:
		t.PossibleTypes = append(t.PossibleTypes, def.Types...)
	case ast.Enum:
		for _, v := range def.EnumValues {
			t.EnumValues = append(t.EnumValues, v.Name)
		}
	case ast.InputObject:
		for _, fd := range def.Fields {
			t.InputFields = append(t.InputFields, buildInputValue(fd.Name, fd.Description, fd.Type, fd.DefaultValue))
		}
	}
	return t
}

func buildField(fd *ast.FieldDefinition) *Field {
	f := &Field{
		Name:        fd.Name,
		Description: fd.Description,
		Type:        buildTypeRef(fd.Type),
	}
	for _, arg := range fd.Arguments {
		f.Arguments = append(f.Arguments, buildInputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue))
	}
	if len(fd.Directives) > 0 {
		f.Directives = make(map[string]map[string]string, len(fd.Directives))
		for _, d := range fd.Directives {
			args := make(map[string]string, len(d.Arguments))
			for _, a := range d.Arguments {
				args[a.Name] = rawValue(a.Value)
			}
			f.Directives[d.Name] = args
		}
	}
	return f
}

func buildInputValue(name, description string, t *ast.Type, def *ast.Value) *InputValue {
	iv := &InputValue{
		Name:         name,
		Description:  description,
		Type:         buildTypeRef(t),
		DefaultValue: rawValue(def),
	}
	if def != nil {
		if v, err := def.Value(nil); err == nil {
			iv.Default, iv.HasDefault = v, true
		}
	}
	return iv
}

func buildTypeRef(t *ast.Type) *TypeRef {
	if t == nil {
		return nil
	}
	if t.NonNull {
		return NonNullType(buildTypeRef(&ast.Type{NamedType: t.NamedType, Elem: t.Elem}))
	}
	if t.NamedType != "" {
		return NamedType(t.NamedType)
	}
	return ListType(buildTypeRef(t.Elem))
}

func rawValue(v *ast.Value) string {
	if v == nil {
		return ""
	}
	return v.Raw
}
