// Package schema normalizes JSON-Schema tool parameter definitions for
// upstream consumption: whitelist cleanup, nullable-type collapsing, and
// conversion to the Gemini schema dialect.
package schema

import (
	"fmt"
	"strings"
)

// allowedKeys is the whitelist enforced by CleanupParameters.
var allowedKeys = map[string]bool{
	"type":             true,
	"format":           true,
	"title":            true,
	"description":      true,
	"nullable":         true,
	"enum":             true,
	"maxItems":         true,
	"minItems":         true,
	"properties":       true,
	"required":         true,
	"minProperties":    true,
	"maxProperties":    true,
	"minLength":        true,
	"maxLength":        true,
	"pattern":          true,
	"example":          true,
	"anyOf":            true,
	"propertyOrdering": true,
	"default":          true,
	"items":            true,
	"minimum":          true,
	"maximum":          true,
}

// geminiTypes maps lowercase JSON-Schema types to the Gemini dialect set.
var geminiTypes = map[string]string{
	"string":  "STRING",
	"number":  "NUMBER",
	"integer": "INTEGER",
	"boolean": "BOOLEAN",
	"array":   "ARRAY",
	"object":  "OBJECT",
	"null":    "NULL",
}

// CleanupParameters recursively enforces the key whitelist on a JSON-Schema
// fragment, in place. User-chosen property names under a "properties" object
// are preserved. Additionally: enum is dropped when type is not "string", and
// format is dropped for strings unless it is "enum" or "date-time".
func CleanupParameters(node any) {
	cleanup(node, false)
}

func cleanup(node any, insideProperties bool) {
	switch n := node.(type) {
	case map[string]any:
		if insideProperties {
			// Keys here are user-chosen property names, not schema
			// keywords; recurse without filtering.
			for _, value := range n {
				cleanup(value, false)
			}
			return
		}

		for key, value := range n {
			if !allowedKeys[key] {
				delete(n, key)
				continue
			}
			cleanup(value, key == "properties")
		}

		typ, _ := n["type"].(string)
		if typ != "string" {
			delete(n, "enum")
		}
		if typ == "string" {
			if format, ok := n["format"].(string); ok && format != "enum" && format != "date-time" {
				delete(n, "format")
			}
		}
	case []any:
		for _, item := range n {
			cleanup(item, false)
		}
	}
}

// ProcessJSONSchema converts a JSON-Schema fragment into the Gemini schema
// dialect: uppercased type names, type arrays flattened into nullable/anyOf,
// two-branch nullable anyOf collapsed, additionalProperties dropped.
func ProcessJSONSchema(node any) (any, error) {
	m, ok := node.(map[string]any)
	if !ok {
		return node, nil
	}

	_, hasType := m["type"]
	anyOf, hasAnyOf := m["anyOf"].([]any)
	if hasType && hasAnyOf {
		return nil, fmt.Errorf("schema carries both type and anyOf")
	}

	if hasAnyOf {
		if collapsed, ok := collapseNullableAnyOf(m, anyOf); ok {
			return collapsed, nil
		}
		processed := make([]any, 0, len(anyOf))
		for _, branch := range anyOf {
			p, err := ProcessJSONSchema(branch)
			if err != nil {
				return nil, err
			}
			processed = append(processed, p)
		}
		m["anyOf"] = processed
	}

	if hasType {
		switch typ := m["type"].(type) {
		case string:
			if strings.EqualFold(typ, "null") {
				return nil, fmt.Errorf("schema with lone null type")
			}
			m["type"] = geminiType(typ)
		case []any:
			if err := flattenTypeArrayToAnyOf(m, typ); err != nil {
				return nil, err
			}
		}
	}

	delete(m, "additionalProperties")

	if items, ok := m["items"]; ok {
		processed, err := ProcessJSONSchema(items)
		if err != nil {
			return nil, err
		}
		m["items"] = processed
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for name, prop := range props {
			processed, err := ProcessJSONSchema(prop)
			if err != nil {
				return nil, err
			}
			props[name] = processed
		}
	}

	return m, nil
}

// flattenTypeArrayToAnyOf rewrites a type array in place: "null" entries set
// nullable, a single remaining type becomes a scalar, several become anyOf.
func flattenTypeArrayToAnyOf(m map[string]any, types []any) error {
	var nonNull []string
	for _, raw := range types {
		typ, ok := raw.(string)
		if !ok {
			continue
		}
		if strings.EqualFold(typ, "null") {
			m["nullable"] = true
			continue
		}
		nonNull = append(nonNull, typ)
	}

	switch len(nonNull) {
	case 0:
		return fmt.Errorf("schema with lone null type")
	case 1:
		m["type"] = geminiType(nonNull[0])
	default:
		delete(m, "type")
		branches := make([]any, 0, len(nonNull))
		for _, typ := range nonNull {
			branches = append(branches, map[string]any{"type": geminiType(typ)})
		}
		m["anyOf"] = branches
	}
	return nil
}

// collapseNullableAnyOf collapses anyOf:[X, {type:"null"}] into X with
// nullable set, recursively processing X.
func collapseNullableAnyOf(m map[string]any, anyOf []any) (any, bool) {
	if len(anyOf) != 2 {
		return nil, false
	}

	nullIdx := -1
	for i, branch := range anyOf {
		b, ok := branch.(map[string]any)
		if !ok {
			continue
		}
		if typ, _ := b["type"].(string); strings.EqualFold(typ, "null") && len(b) == 1 {
			nullIdx = i
		}
	}
	if nullIdx == -1 {
		return nil, false
	}

	other := anyOf[1-nullIdx]
	processed, err := ProcessJSONSchema(other)
	if err != nil {
		return nil, false
	}
	result, ok := processed.(map[string]any)
	if !ok {
		return nil, false
	}
	result["nullable"] = true

	// Carry sibling keys (description etc.) that sat next to the anyOf.
	for key, value := range m {
		if key == "anyOf" {
			continue
		}
		if _, exists := result[key]; !exists {
			result[key] = value
		}
	}

	return result, true
}

func geminiType(typ string) string {
	if mapped, ok := geminiTypes[strings.ToLower(typ)]; ok {
		return mapped
	}
	return "TYPE_UNSPECIFIED"
}
