// Package schema sanitizes caller-supplied JSON schemas (tool parameter
// definitions) into the restricted dialect the Gemini function-calling API
// accepts: no $ref/$defs-class keywords, no union-typed "type" arrays, no
// unresolved anyOf/oneOf, and no validation-only constraint keywords.
package schema

import "strconv"

// unsupportedKeys are removed unconditionally wherever they appear in a
// schema node; Gemini's schema dialect rejects the request outright if any
// of these are present rather than ignoring them.
var unsupportedKeys = []string{
	"$schema", "$ref", "$defs", "definitions", "patternProperties",
	"propertyNames", "dependentSchemas", "dependentRequired",
	"unevaluatedProperties", "if", "then", "else", "not", "allOf", "const",
	"readOnly", "writeOnly", "contentEncoding", "contentMediaType",
	"default", "examples",
}

// foldableKeys are validation-only constraints Gemini's schema dialect
// rejects but whose intent is worth preserving: each is moved into the
// node's description as a short trailing note instead of being silently
// dropped.
var foldableKeys = []string{
	"pattern", "minLength", "maxLength", "minimum", "maximum",
	"exclusiveMinimum", "exclusiveMaximum", "multipleOf", "format",
	"minItems", "maxItems",
}

// Sanitize walks node depth-first, bottom-up, and returns a cleaned copy.
// It is idempotent: Sanitize(Sanitize(x)) produces a value equal to
// Sanitize(x).
func Sanitize(node any) any {
	switch v := node.(type) {
	case map[string]any:
		return sanitizeObject(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = Sanitize(e)
		}
		return out
	default:
		return v
	}
}

func sanitizeObject(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		// "pattern" can itself be a nested schema in a caller's custom
		// dialect, not a regex string; only fold/drop it as a constraint
		// when its value is a string.
		if k == "pattern" {
			if _, isString := v.(string); !isString {
				out[k] = Sanitize(v)
				continue
			}
		}
		out[k] = Sanitize(v)
	}

	collapseUnionType(out)
	foldAnyOfOneOf(out)
	lowercaseType(out)
	coerceEnum(out)
	foldConstraintsIntoDescription(out)

	for _, k := range unsupportedKeys {
		delete(out, k)
	}

	if props, ok := out["properties"].(map[string]any); ok {
		cleaned := make(map[string]any, len(props))
		for name, p := range props {
			cleaned[name] = Sanitize(p)
		}
		out["properties"] = cleaned
	}
	if items, ok := out["items"]; ok {
		out["items"] = Sanitize(items)
	}
	if ap, ok := out["additionalProperties"]; ok {
		if _, isBool := ap.(bool); isBool {
			// A bare boolean additionalProperties (almost always `false`,
			// emitted by strict-mode schema generators) has no equivalent
			// in Gemini's dialect and is rejected outright.
			delete(out, "additionalProperties")
		} else {
			out["additionalProperties"] = Sanitize(ap)
		}
	}

	return out
}

// collapseUnionType turns a JSON-schema union type array like
// ["string", "null"] into its single non-null member, since Gemini's
// dialect has no concept of a nullable union type.
func collapseUnionType(node map[string]any) {
	arr, ok := node["type"].([]any)
	if !ok {
		return
	}
	var nonNull string
	for _, t := range arr {
		s, ok := t.(string)
		if !ok {
			continue
		}
		if s == "null" {
			continue
		}
		if nonNull == "" {
			nonNull = s
		}
	}
	if nonNull != "" {
		node["type"] = nonNull
	} else {
		delete(node, "type")
	}
}

// foldAnyOfOneOf synthesizes a concrete type for nodes expressed purely as
// anyOf/oneOf alternatives: if every alternative agrees on a type, that
// type is adopted; if they disagree, the node falls back to type "string"
// per spec. Alternative descriptions are folded into the parent
// description so the constraint isn't silently dropped.
func foldAnyOfOneOf(node map[string]any) {
	for _, key := range []string{"anyOf", "oneOf"} {
		alts, ok := node[key].([]any)
		if !ok || len(alts) == 0 {
			continue
		}
		var chosenType string
		agree := true
		var descriptions []string
		for _, alt := range alts {
			altMap, ok := alt.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := altMap["type"].(string); ok {
				if chosenType == "" {
					chosenType = t
				} else if chosenType != t {
					agree = false
				}
			}
			if d, ok := altMap["description"].(string); ok && d != "" {
				descriptions = append(descriptions, d)
			}
		}
		delete(node, key)
		if _, exists := node["type"]; !exists {
			if chosenType != "" && agree {
				node["type"] = chosenType
			} else {
				node["type"] = "string"
			}
		}
		if len(descriptions) > 0 {
			existing, _ := node["description"].(string)
			node["description"] = joinNotes(existing, descriptions)
		}
	}
}

func joinNotes(existing string, extra []string) string {
	all := extra
	if existing != "" {
		all = append([]string{existing}, extra...)
	}
	out := ""
	for i, d := range all {
		if i > 0 {
			out += " "
		}
		out += d
	}
	return out
}

// foldConstraintsIntoDescription moves each present foldableKeys entry into
// a short trailing note on the node's description, then removes the raw
// keyword so it never reaches the upstream schema validator.
func foldConstraintsIntoDescription(node map[string]any) {
	var notes []string
	for _, k := range foldableKeys {
		v, ok := node[k]
		if !ok {
			continue
		}
		notes = append(notes, constraintNote(k, v))
		delete(node, k)
	}
	if len(notes) == 0 {
		return
	}
	existing, _ := node["description"].(string)
	node["description"] = joinNotes(existing, notes)
}

func constraintNote(key string, v any) string {
	return "(" + key + ": " + stringify(v) + ")"
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return formatNumber(t)
	case bool:
		return formatBool(t)
	default:
		return ""
	}
}

func lowercaseType(node map[string]any) {
	s, ok := node["type"].(string)
	if !ok {
		return
	}
	lower := toLower(s)
	if lower != s {
		node["type"] = lower
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// coerceEnum stringifies numeric, boolean or nil enum members in place,
// leaving string members and ordering untouched; Gemini's function-calling
// schema only accepts string enum values.
func coerceEnum(node map[string]any) {
	arr, ok := node["enum"].([]any)
	if !ok {
		return
	}
	out := make([]any, len(arr))
	for i, v := range arr {
		switch t := v.(type) {
		case string:
			out[i] = t
		case float64:
			out[i] = formatNumber(t)
		case bool:
			out[i] = formatBool(t)
		case nil:
			out[i] = "null"
		default:
			out[i] = v
		}
	}
	node["enum"] = out
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
