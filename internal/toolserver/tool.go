package toolserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// HandlerFunc executes one tool call. Arguments arrive schema-validated;
// whatever the handler returns is validated against the output schema before
// it is wrapped for the wire.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is one catalogue entry: its public definition plus the compiled
// input/output contracts and the implementation.
type Tool struct {
	Name        string
	Description string

	inputDoc  map[string]any
	input     *jsonschema.Schema
	output    *jsonschema.Schema
	handler   HandlerFunc
}

// Catalog is the static tool table. It is built once at startup and never
// mutated afterwards, so lookups need no locking.
type Catalog struct {
	tools map[string]*Tool
	order []string
}

func newCatalog() *Catalog {
	return &Catalog{tools: make(map[string]*Tool)}
}

// register compiles both schemas and installs the tool. Registration errors
// are startup bugs; the caller aborts on them.
func (c *Catalog) register(name, description string, input, output map[string]any, handler HandlerFunc) error {
	if _, exists := c.tools[name]; exists {
		return fmt.Errorf("tool %s registered twice", name)
	}
	in, err := compileSchema(name+".input.json", input)
	if err != nil {
		return fmt.Errorf("tool %s: input schema: %w", name, err)
	}
	out, err := compileSchema(name+".output.json", output)
	if err != nil {
		return fmt.Errorf("tool %s: output schema: %w", name, err)
	}
	c.tools[name] = &Tool{
		Name:        name,
		Description: description,
		inputDoc:    input,
		input:       in,
		output:      out,
		handler:     handler,
	}
	c.order = append(c.order, name)
	return nil
}

// toolSpec is the declarative form one handler group registers from.
type toolSpec struct {
	name        string
	description string
	input       map[string]any
	output      map[string]any
	handler     HandlerFunc
}

func (c *Catalog) registerAll(specs []toolSpec) error {
	for _, spec := range specs {
		if err := c.register(spec.name, spec.description, spec.input, spec.output, spec.handler); err != nil {
			return err
		}
	}
	return nil
}

// lookup finds a registered tool by name.
func (c *Catalog) lookup(name string) (*Tool, bool) {
	t, ok := c.tools[name]
	return t, ok
}

// definitions lists the catalogue in registration order for tools/list.
func (c *Catalog) definitions() []Definition {
	defs := make([]Definition, 0, len(c.order))
	for _, name := range c.order {
		t := c.tools[name]
		defs = append(defs, Definition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.inputDoc,
		})
	}
	return defs
}

// compileSchema round-trips the schema document through JSON so the compiler
// sees the exact value shape the validator will compare against.
func compileSchema(name string, doc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateJSON checks raw JSON against a compiled schema. Empty input counts
// as an empty object so tools with no required fields accept omitted
// arguments.
func validateJSON(schema *jsonschema.Schema, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(value)
}
