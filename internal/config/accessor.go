package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// tree is the JSON view of a Config that the dot-path commands walk.
type tree = map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetByPath returns the value at a dot path such as "openai.model" or
// "assistant.imageTriggers.0".
func GetByPath(cfg *Config, path string) (any, error) {
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}

	var cur any = t
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case tree:
			v, ok := node[key]
			if !ok {
				return nil, fmt.Errorf("unknown config path: %s", path)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("invalid list index %q in %s", key, path)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("%s: %q is not a section", path, key)
		}
	}
	return cur, nil
}

// SetByPath replaces the leaf at path. The raw string is converted to the
// type the field already holds, so an unknown path is an error instead of
// being dropped on the way back into the struct.
func SetByPath(cfg *Config, path string, raw string) error {
	t, err := toTree(cfg)
	if err != nil {
		return err
	}

	keys := strings.Split(path, ".")
	section := t
	for _, key := range keys[:len(keys)-1] {
		next, ok := section[key].(tree)
		if !ok {
			return fmt.Errorf("unknown config section %q in %s", key, path)
		}
		section = next
	}

	leaf := keys[len(keys)-1]
	cur, ok := section[leaf]
	if !ok && !optionalLeaf(path) {
		return fmt.Errorf("unknown config path: %s", path)
	}
	if !ok && path == "assistant.imageTriggers" {
		cur = []any{}
	}
	v, err := convert(cur, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	section[leaf] = v

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// optionalLeaf reports fields tagged omitempty, which are absent from the
// tree while unset.
func optionalLeaf(path string) bool {
	switch path {
	case "line.apiBase", "openai.apiBase", "vision.apiBase",
		"assistant.workingText", "assistant.doneText", "assistant.defaultImagePrompt",
		"assistant.imageTriggers", "history.retention", "general.logFile":
		return true
	}
	return false
}

// convert parses raw into the JSON kind of cur. Lists are comma separated.
func convert(cur any, raw string) (any, error) {
	switch cur.(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("want true or false, got %q", raw)
		}
		return b, nil
	case float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("want a number, got %q", raw)
		}
		return f, nil
	case []any:
		return splitList(raw), nil
	}
	return raw, nil
}

func splitList(raw string) []any {
	var out []any
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Sanitize returns a copy safe to print: LINE, OpenAI and Vision credentials
// are masked, and so is a postgres DSN because it embeds a password.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Assistant.ImageTriggers = append([]string(nil), cfg.Assistant.ImageTriggers...)

	c.LINE.ChannelSecret = maskString(c.LINE.ChannelSecret)
	c.LINE.ChannelAccessToken = maskString(c.LINE.ChannelAccessToken)
	c.OpenAI.APIKey = maskString(c.OpenAI.APIKey)
	c.Vision.APIKey = maskString(c.Vision.APIKey)
	if c.History.Driver == "postgres" {
		c.History.DSN = maskString(c.History.DSN)
	}
	return &c
}

// IsSet reports whether a credential holds a real value rather than nothing
// or an unexpanded ${VAR} placeholder.
func IsSet(v string) bool {
	return v != "" && !envVarPattern.MatchString(v)
}

// maskString keeps four characters at each end. Placeholders pass through
// so `config list` still shows which variable is expected.
func maskString(s string) string {
	if !IsSet(s) {
		return s
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens the config into dot path → value pairs.
func ListPaths(cfg *Config) map[string]any {
	t, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten("", t, out)
	return out
}

func flatten(prefix string, t tree, out map[string]any) {
	for k, v := range t {
		if prefix != "" {
			k = prefix + "." + k
		}
		if sub, ok := v.(tree); ok {
			flatten(k, sub, out)
			continue
		}
		out[k] = v
	}
}
