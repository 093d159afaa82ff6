package engine

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"procgate/internal/metadata"
)

var (
	tagPattern  = regexp.MustCompile(`<[^>]*>`)
	verbPattern = regexp.MustCompile(`%[-+# 0]*\d*(?:\.\d+)?([a-zA-Z])`)
)

// applyTransform runs one response transform. nil values pass through
// untouched.
func applyTransform(rule *metadata.TransformRule, value any, row map[string]any) (any, error) {
	if rule == nil {
		return value, nil
	}
	if rule.Rule == "concat" {
		return concat(rule, value, row), nil
	}
	if value == nil {
		return nil, nil
	}

	switch rule.Rule {
	case "uppercase":
		return strings.ToUpper(textOf(value)), nil
	case "lowercase":
		return strings.ToLower(textOf(value)), nil
	case "trim":
		return strings.TrimSpace(textOf(value)), nil
	case "strip_tags":
		return tagPattern.ReplaceAllString(textOf(value), ""), nil
	case "url_encode":
		return url.QueryEscape(textOf(value)), nil
	case "url_decode":
		s, err := url.QueryUnescape(textOf(value))
		if err != nil {
			return nil, fmt.Errorf("url_decode: %w", err)
		}
		return s, nil
	case "base64_encode":
		return base64.StdEncoding.EncodeToString([]byte(textOf(value))), nil
	case "base64_decode":
		b, err := base64.StdEncoding.DecodeString(textOf(value))
		if err != nil {
			return nil, fmt.Errorf("base64_decode: %w", err)
		}
		return string(b), nil
	case "md5":
		sum := md5.Sum([]byte(textOf(value)))
		return hex.EncodeToString(sum[:]), nil
	case "sha1":
		sum := sha1.Sum([]byte(textOf(value)))
		return hex.EncodeToString(sum[:]), nil
	case "replace":
		return strings.ReplaceAll(textOf(value), rule.Arg("search"), rule.Arg("replace")), nil
	case "format":
		return format(rule, value)
	case "split":
		sep := rule.Arg("separator")
		if sep == "" {
			sep = ","
		}
		parts := strings.Split(textOf(value), sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out, nil
	case "map":
		return mapValue(rule, value), nil
	case "expression":
		if prog := rule.Program(); prog != nil {
			return evaluateTransformExpression(prog, value, row)
		}
		return value, nil
	}
	return nil, fmt.Errorf("unknown transform %q", rule.Rule)
}

// format renders value with a Go layout when the value is a time (args:
// layout) or with a fmt pattern otherwise (args: pattern).
func format(rule *metadata.TransformRule, value any) (any, error) {
	if layout := rule.Arg("layout"); layout != "" {
		var tm time.Time
		switch v := value.(type) {
		case time.Time:
			tm = v
		default:
			parsed, err := castTime(value, metadata.TypeDateTime)
			if err != nil {
				return nil, fmt.Errorf("format: %w", err)
			}
			tm = parsed
		}
		return tm.Format(layout), nil
	}
	if pattern := rule.Arg("pattern"); pattern != "" {
		arg := value
		if m := verbPattern.FindStringSubmatch(pattern); m != nil {
			switch {
			case strings.ContainsAny(m[1], "eEfFgG"):
				if f, ok := toFloat64(value); ok {
					arg = f
				}
			case m[1] == "d":
				if i, err := castInteger(value); err == nil {
					arg = i
				}
			}
		}
		return fmt.Sprintf(pattern, arg), nil
	}
	return value, nil
}

// concat joins the listed row columns (args: fields, separator), or wraps
// the value with args prefix and suffix when no fields are listed.
func concat(rule *metadata.TransformRule, value any, row map[string]any) any {
	sep := " "
	if _, ok := rule.Args["separator"]; ok {
		sep = rule.Arg("separator")
	}

	var fields []string
	switch f := rule.Args["fields"].(type) {
	case []any:
		for _, x := range f {
			fields = append(fields, fmt.Sprint(x))
		}
	case []string:
		fields = f
	case string:
		fields = strings.Split(f, ",")
	}

	if len(fields) == 0 {
		if value == nil {
			return nil
		}
		return rule.Arg("prefix") + textOf(value) + rule.Arg("suffix")
	}

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v, ok := row[strings.TrimSpace(f)]
		if !ok || v == nil {
			continue
		}
		parts = append(parts, textOf(v))
	}
	return rule.Arg("prefix") + strings.Join(parts, sep) + rule.Arg("suffix")
}

// mapValue looks the value up in args.values, falling back to args.default
// and then to the value itself.
func mapValue(rule *metadata.TransformRule, value any) any {
	key := textOf(value)
	if values, ok := rule.Args["values"].(map[string]any); ok {
		if mapped, ok := values[key]; ok {
			return mapped
		}
	}
	if def, ok := rule.Args["default"]; ok {
		return def
	}
	return value
}

func textOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return stringForm(v)
}
