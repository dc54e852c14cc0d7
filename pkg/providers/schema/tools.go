package schema

// TransformTools normalizes a Gemini tool object's function declarations.
// Declarations whose parameters carry no "$schema" marker are converted to
// the Gemini dialect in place; ones that do keep their original JSON Schema,
// moved under parametersJsonSchema with the marker stripped. The same rule
// applies to response/responseJsonSchema.
func TransformTools(tool map[string]any) (map[string]any, error) {
	decls, ok := tool["functionDeclarations"].([]any)
	if !ok {
		return tool, nil
	}

	for _, raw := range decls {
		decl, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if err := normalizeSchemaField(decl, "parameters", "parametersJsonSchema"); err != nil {
			return nil, err
		}
		if err := normalizeSchemaField(decl, "response", "responseJsonSchema"); err != nil {
			return nil, err
		}
	}

	return tool, nil
}

func normalizeSchemaField(decl map[string]any, field, jsonSchemaField string) error {
	value, ok := decl[field].(map[string]any)
	if !ok {
		return nil
	}

	if _, hasMarker := value["$schema"]; hasMarker {
		delete(value, "$schema")
		decl[jsonSchemaField] = value
		delete(decl, field)
		return nil
	}

	processed, err := ProcessJSONSchema(value)
	if err != nil {
		return err
	}
	decl[field] = processed
	return nil
}
