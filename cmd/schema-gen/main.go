// Schema Generator
//
// Generates JSON Schema files from the operator API types so clients can
// validate requests and responses. Go is the source of truth for these types.
//
// Usage:
//
//	go run ./cmd/schema-gen [-out ./schemas]
//
// Output:
//
//	schemas/tasks.json
//	schemas/missions.json
//	schemas/auth.json
//	schemas/system.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/leadforge/mission-service/internal/auth"
	"github.com/leadforge/mission-service/internal/followup"
	"github.com/leadforge/mission-service/internal/handlers"
	"github.com/leadforge/mission-service/internal/middleware"
	"github.com/leadforge/mission-service/internal/missions"
	"github.com/leadforge/mission-service/internal/quota"
	"github.com/leadforge/mission-service/internal/taskqueue"
	"github.com/leadforge/mission-service/internal/workers"
)

// SchemaGroup represents a group of related schemas
type SchemaGroup struct {
	Name   string
	Types  []any
	Output string
}

var groups = []SchemaGroup{
	{
		Name: "tasks",
		Types: []any{
			// Request types
			handlers.ListTasksRequest{},
			handlers.RescueStuckRequest{},
			// Response types
			taskqueue.Task{},
			taskqueue.ListResult{},
			handlers.TaskResponse{},
			handlers.RescueStuckResponse{},
			workers.TickResult{},
		},
		Output: "tasks.json",
	},
	{
		Name: "missions",
		Types: []any{
			missions.TriggerResult{},
			quota.Snapshot{},
			followup.RunResult{},
		},
		Output: "missions.json",
	},
	{
		Name: "auth",
		Types: []any{
			auth.IssueRequest{},
			auth.IssuedToken{},
			auth.Claims{},
		},
		Output: "auth.json",
	},
	{
		Name: "system",
		Types: []any{
			handlers.HealthResponse{},
			middleware.ErrorResponse{},
		},
		Output: "system.json",
	},
}

func main() {
	outputDir := flag.String("out", "./schemas", "output directory")
	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	for _, group := range groups {
		schema := generateGroupSchema(group)
		outputPath := filepath.Join(*outputDir, group.Output)

		if err := writeSchema(schema, outputPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", group.Output, err)
			os.Exit(1)
		}

		fmt.Printf("Generated %s\n", outputPath)
	}

	fmt.Println("Schema generation complete!")
}

// generateGroupSchema creates a combined schema with all types in a group
func generateGroupSchema(group SchemaGroup) map[string]any {
	reflector := &jsonschema.Reflector{
		DoNotReference: false,
		ExpandedStruct: false,
	}

	definitions := make(map[string]any)

	for _, t := range group.Types {
		schema := reflector.Reflect(t)

		// Extract type name from $ref like "#/$defs/Task"
		typeName := ""
		if schema.Ref != "" {
			typeName = filepath.Base(schema.Ref)
		}

		for name, def := range schema.Definitions {
			definitions[name] = def
		}

		if typeName != "" && schema.Definitions[typeName] != nil {
			definitions[typeName] = schema.Definitions[typeName]
		}
	}

	return map[string]any{
		"$schema":     "https://json-schema.org/draft/2020-12/schema",
		"$id":         fmt.Sprintf("https://leadforge.io/schemas/mission-service/%s.json", group.Name),
		"title":       fmt.Sprintf("%s API Types", capitalize(group.Name)),
		"description": fmt.Sprintf("JSON Schema for %s API types generated from Go structs", group.Name),
		"$defs":       definitions,
	}
}

// writeSchema writes a schema to a JSON file
func writeSchema(schema map[string]any, path string) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
