package config

import (
	"encoding/json"
	"strings"
)

// Change pairs the previous and current value of one settings path.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Diff lists settings paths added, removed or changed between two
// snapshots. Paths are dotted ("quotas.general.max_events"). Secret values
// are redacted before they reach any log line.
type Diff struct {
	Added   map[string]any    `json:"added,omitempty"`
	Removed map[string]any    `json:"removed,omitempty"`
	Changed map[string]Change `json:"changed,omitempty"`
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffSettings compares two snapshots field by field through their JSON
// forms, so it tracks the on-disk shape rather than Go struct layout.
func DiffSettings(oldS, newS *Settings) Diff {
	d := Diff{
		Added:   make(map[string]any),
		Removed: make(map[string]any),
		Changed: make(map[string]Change),
	}
	diffValue("", toTree(oldS), toTree(newS), &d)
	return d
}

func toTree(s *Settings) any {
	if s == nil {
		return map[string]any{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return map[string]any{}
	}
	return v
}

func diffValue(path string, oldV, newV any, d *Diff) {
	oldM, oldIsMap := oldV.(map[string]any)
	newM, newIsMap := newV.(map[string]any)
	if oldIsMap && newIsMap {
		for k, ov := range oldM {
			child := joinPath(path, k)
			nv, ok := newM[k]
			if !ok {
				d.Removed[child] = redact(child, ov)
				continue
			}
			diffValue(child, ov, nv, d)
		}
		for k, nv := range newM {
			if _, ok := oldM[k]; !ok {
				child := joinPath(path, k)
				d.Added[child] = redact(child, nv)
			}
		}
		return
	}
	if !equalJSON(oldV, newV) {
		d.Changed[path] = Change{Old: redact(path, oldV), New: redact(path, newV)}
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func equalJSON(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

// redact hides credential-bearing values; the diff reports that they
// changed, never what they are.
func redact(path string, v any) any {
	last := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		last = path[i+1:]
	}
	switch last {
	case "token", "webhook_url":
		if s, ok := v.(string); ok && s != "" {
			return "[redacted]"
		}
	}
	// Whole subtrees (a platform block added or removed in one edit) may
	// carry secrets below the reported path.
	if m, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, child := range m {
			out[k] = redact(joinPath(path, k), child)
		}
		return out
	}
	return v
}
