package translate

import "reflect"

// CleanSchema walks a JSON Schema tree (decoded as a generic map/slice tree)
// and drops the "format" key from any object node with type:"string" and
// format:"uri" — OpenRouter's schema validator rejects that combination.
// Every other property is preserved untouched.
//
// Cyclic schemas (a $ref-like structure that revisits the same node) are
// guarded against by tracking visited map/slice identities; a revisited node
// is returned unchanged rather than walked again, per spec.md §9.
func CleanSchema(schema any) any {
	return cleanNode(schema, make(map[any]bool))
}

func cleanNode(node any, visited map[any]bool) any {
	switch v := node.(type) {
	case map[string]any:
		if visited[nodeKey(v)] {
			return v
		}
		visited[nodeKey(v)] = true

		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = value
		}

		if isURIStringNode(out) {
			delete(out, "format")
		}

		if props, ok := out["properties"].(map[string]any); ok {
			cleanedProps := make(map[string]any, len(props))
			for name, value := range props {
				cleanedProps[name] = cleanNode(value, visited)
			}
			out["properties"] = cleanedProps
		}

		if items, ok := out["items"]; ok {
			out["items"] = cleanNode(items, visited)
		}

		if additional, ok := out["additionalProperties"]; ok {
			switch additional.(type) {
			case map[string]any:
				out["additionalProperties"] = cleanNode(additional, visited)
			default:
				// bool or absent: nothing to descend into.
			}
		}

		for _, key := range []string{"anyOf", "allOf", "oneOf"} {
			if list, ok := out[key].([]any); ok {
				out[key] = cleanNode(list, visited)
			}
		}

		return out

	case []any:
		if visited[nodeKey(v)] {
			return v
		}
		visited[nodeKey(v)] = true

		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = cleanNode(elem, visited)
		}
		return out

	default:
		return node
	}
}

// nodeKey returns a comparable identity for a map or slice, used to detect
// revisiting the same node in a cyclic schema. Go maps and slices are not
// comparable, so the header pointer is what we key on; this is why the
// visited set is populated once per distinct call to cleanNode on a given
// node rather than by value.
func nodeKey(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		return reflect.ValueOf(v).Pointer()
	default:
		return nil
	}
}

func isURIStringNode(n map[string]any) bool {
	typ, _ := n["type"].(string)
	format, _ := n["format"].(string)
	return typ == "string" && format == "uri"
}
