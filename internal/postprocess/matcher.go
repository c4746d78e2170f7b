package postprocess

import (
	"strings"

	"github.com/gobwas/glob"

	"basegraph.app/postprocess/internal/model"
)

// MatchOwner returns the first owner of the first rule matching the event data.
func MatchOwner(rules []model.OwnershipRule, data map[string]any) (model.Owner, bool) {
	for _, rule := range rules {
		if len(rule.Owners) == 0 {
			continue
		}
		if MatchRule(rule.Matcher, data) {
			return rule.Owners[0], true
		}
	}
	return model.Owner{}, false
}

// MatchRule tests a single matcher. Globs match case-insensitively.
func MatchRule(m model.Matcher, data map[string]any) bool {
	if m.Pattern == "" {
		return false
	}
	g, err := glob.Compile(strings.ToLower(m.Pattern))
	if err != nil {
		return false
	}
	match := func(s string) bool {
		return s != "" && g.Match(strings.ToLower(s))
	}

	switch m.Type {
	case model.MatcherTypePath:
		for _, f := range frames(data) {
			if match(stringField(f, "filename")) || match(stringField(f, "abs_path")) {
				return true
			}
		}
	case model.MatcherTypeModule:
		for _, f := range frames(data) {
			if match(stringField(f, "module")) {
				return true
			}
		}
	case model.MatcherTypeURL:
		if request, ok := data["request"].(map[string]any); ok {
			return match(stringField(request, "url"))
		}
	case model.MatcherTypeTag:
		for _, tag := range tags(data) {
			if strings.EqualFold(tag.Key, m.Key) && match(tag.Value) {
				return true
			}
		}
	}
	return false
}

// frames collects stack frames from every exception and the top-level stacktrace.
func frames(data map[string]any) []map[string]any {
	var out []map[string]any
	collect := func(st any) {
		stacktrace, ok := st.(map[string]any)
		if !ok {
			return
		}
		list, _ := stacktrace["frames"].([]any)
		for _, f := range list {
			if frame, ok := f.(map[string]any); ok {
				out = append(out, frame)
			}
		}
	}

	if exception, ok := data["exception"].(map[string]any); ok {
		values, _ := exception["values"].([]any)
		for _, v := range values {
			if exc, ok := v.(map[string]any); ok {
				collect(exc["stacktrace"])
			}
		}
	}
	collect(data["stacktrace"])
	return out
}

// tags accepts both the [[key, value], ...] and {key: value} layouts.
func tags(data map[string]any) []model.TagPair {
	var out []model.TagPair
	switch t := data["tags"].(type) {
	case []any:
		for _, item := range t {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				continue
			}
			k, _ := pair[0].(string)
			v, _ := pair[1].(string)
			out = append(out, model.TagPair{Key: k, Value: v})
		}
	case map[string]any:
		for k, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, model.TagPair{Key: k, Value: s})
			}
		}
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
