package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry holding the instance schemas:
// "instance", "node", "vm", "resource", "constraint" and "action".
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	for name, def := range map[string]string{
		"instance":   "#Instance",
		"node":       "#Node",
		"vm":         "#VM",
		"resource":   "#Resource",
		"constraint": "#Constraint",
		"action":     "#Action",
	} {
		if err := sr.RegisterSchema(name, def, builtinInstanceSchema); err != nil {
			panic(err)
		}
	}
	return sr
}

// RegisterSchema compiles source and registers its definition def (e.g.
// "#Instance") under name.
func (sr *SchemaRegistry) RegisterSchema(name, def, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	schema := val.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, def)
	}

	sr.schemas[name] = schema
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	return sr.Unify(schemaName, schema, dataVal)
}

// Unify validates a CUE value against a schema. The value must be concrete.
func (sr *SchemaRegistry) Unify(name string, schema, val cue.Value) error {
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s validation failed: %w", name, err)
	}
	return nil
}

// ListSchemas returns the registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinInstanceSchema = `
#Name: string & =~"^[a-zA-Z0-9_.-]+$"

#Attributes: {[string]: bool | number | string}

#Instance: {
	name:         #Name
	description?: string
	nodes: [#Node, ...#Node]
	vms?: [...#VM]
	resources?: [...#Resource]
	constraints?: [...#Constraint]
	actions?: [...#Action]
	requires?: [...{
		before: int & >=0
		after:  int & >=0
	}]
	script?: string
	policies?: [...string]
}

#Node: {
	name:        #Name
	state?:      "online" | "offline"
	attributes?: #Attributes
}

#VM: {
	name:        #Name
	state?:      "running" | "sleeping" | "ready"
	node?:       #Name
	attributes?: #Attributes
}

#Resource: {
	name:                 #Name
	default_consumption?: int & >=0
	default_capacity?:    int & >=0
	consumption?: {[#Name]: int & >=0}
	capacity?: {[#Name]: int & >=0}
}

#Constraint: {
	type: "ban" | "fence" | "spread" | "gather" | "lonely" | "split" | "among" |
		"splitAmong" | "root" | "preserve" | "running" | "ready" | "sleeping" |
		"killed" | "online" | "offline" | "singleRunningCapacity" |
		"cumulatedRunningCapacity"
	vms?: [...#Name]
	nodes?: [...#Name]
	vm_groups?: [...[...#Name]]
	node_groups?: [...[...#Name]]
	resource?:   #Name
	amount?:     int & >=0
	continuous?: bool
}

#Action: {
	kind: "bootNode" | "shutdownNode" | "bootVM" | "shutdownVM" | "suspendVM" |
		"resumeVM" | "migrateVM" | "killVM" | "forgeVM" | "allocate"
	vm?:       #Name
	node?:     #Name
	src?:      #Name
	dst?:      #Name
	resource?: #Name
	amount?:   int & >=0
	start:     int & >=0
	end:       int & >=start
	events?: [...{
		hook:     "pre" | "post"
		vm:       #Name
		resource: #Name
		amount:   int & >=0
	}]
}
`
