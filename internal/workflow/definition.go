// Package workflow holds the declarative workflow definitions and the pure
// status machinery of the approval engine: stage specs per entity type, the
// definition registry, and status aggregation.
package workflow

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/transformhub/be-tm-approvals/internal/apperrors"
)

// StageSpec is one role-gated step in a workflow definition.
type StageSpec struct {
	Role     string `yaml:"role" json:"role"`
	Required bool   `yaml:"required" json:"required"`
}

// Definition is the ordered stage sequence for one entity type.
type Definition struct {
	EntityType string      `yaml:"entity_type" json:"entity_type"`
	Stages     []StageSpec `yaml:"stages" json:"stages"`
}

// DefaultDefinitions returns the built-in workflow definitions for the
// transformation-management entity types. A definitions file can override or
// extend these per deployment.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			EntityType: "test_case",
			Stages: []StageSpec{
				{Role: "QA_LEAD", Required: true},
				{Role: "PROJECT_MANAGER", Required: true},
				{Role: "SPONSOR", Required: true},
			},
		},
		{
			EntityType: "test_plan",
			Stages: []StageSpec{
				{Role: "QA_LEAD", Required: true},
				{Role: "PROJECT_MANAGER", Required: true},
			},
		},
		{
			EntityType: "process_step",
			Stages: []StageSpec{
				{Role: "PROCESS_OWNER", Required: true},
				{Role: "SOLUTION_ARCHITECT", Required: false},
				{Role: "PROJECT_MANAGER", Required: true},
			},
		},
		{
			EntityType: "integration_item",
			Stages: []StageSpec{
				{Role: "INTEGRATION_LEAD", Required: true},
				{Role: "SOLUTION_ARCHITECT", Required: true},
			},
		},
	}
}

// definitionsFile is the on-disk YAML schema.
type definitionsFile struct {
	Definitions []Definition `yaml:"definitions"`
}

// LoadDefinitionsFile reads workflow definitions from a YAML file.
func LoadDefinitionsFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions file: %w", err)
	}

	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse definitions file %s: %w", path, err)
	}
	return file.Definitions, nil
}

// Registry maps entity types to their ordered stage specifications. Immutable
// after construction; Resolve is a pure lookup.
type Registry struct {
	defs map[string][]StageSpec
}

// NewRegistry builds a registry from definitions. Later definitions override
// earlier ones with the same entity type, so callers can layer a deployment
// file over DefaultDefinitions.
func NewRegistry(defs ...[]Definition) (*Registry, error) {
	m := make(map[string][]StageSpec)
	for _, layer := range defs {
		for _, def := range layer {
			if def.EntityType == "" {
				return nil, apperrors.InvalidInput("entity_type", "workflow definition has no entity type")
			}
			if len(def.Stages) == 0 {
				return nil, apperrors.InvalidInput("stages", fmt.Sprintf("definition for %q has no stages", def.EntityType))
			}
			for i, spec := range def.Stages {
				if spec.Role == "" {
					return nil, apperrors.InvalidInput("role", fmt.Sprintf("definition for %q stage %d has no role", def.EntityType, i))
				}
			}
			stages := make([]StageSpec, len(def.Stages))
			copy(stages, def.Stages)
			m[def.EntityType] = stages
		}
	}
	return &Registry{defs: m}, nil
}

// Resolve returns the ordered stage specs for an entity type.
func (r *Registry) Resolve(entityType string) ([]StageSpec, error) {
	stages, ok := r.defs[entityType]
	if !ok {
		return nil, fmt.Errorf("%q: %w", entityType, apperrors.ErrUnknownEntityType)
	}
	out := make([]StageSpec, len(stages))
	copy(out, stages)
	return out, nil
}

// EntityTypes returns the registered entity types, sorted.
func (r *Registry) EntityTypes() []string {
	types := make([]string, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
