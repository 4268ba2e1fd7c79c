package classifier

import "strings"

// SelectModel resolves the model actually sent upstream. The client's
// requested model is honored when the inventory has it and the classifier
// does not strongly disagree on task type; otherwise the recommendation
// substitutes. Tag drift is tolerated by matching on the prefix before ":".
func SelectModel(requested string, cls Classification, inventory []string) string {
	resolved, ok := resolveInInventory(requested, inventory)
	if ok && !stronglyPrefersOther(resolved, cls, inventory) {
		return resolved
	}
	if rec, ok := resolveInInventory(cls.RecommendedModel, inventory); ok {
		return rec
	}
	return cls.RecommendedModel
}

// resolveInInventory finds the requested name in the inventory, first
// verbatim and then by base-name prefix.
func resolveInInventory(name string, inventory []string) (string, bool) {
	if name == "" {
		return "", false
	}
	for _, have := range inventory {
		if have == name {
			return have, true
		}
	}
	base := baseName(name)
	for _, have := range inventory {
		if baseName(have) == base {
			return have, true
		}
	}
	return "", false
}

// stronglyPrefersOther reports whether the classifier's recommendation
// should override an available requested model. Only a coding-task mismatch
// counts as strong: sending code work to a chat model measurably hurts,
// while the reverse is harmless.
func stronglyPrefersOther(requested string, cls Classification, inventory []string) bool {
	if cls.TaskType != TaskCoding {
		return false
	}
	if isCodingModel(requested) {
		return false
	}
	// Only override when the recommendation actually exists.
	_, ok := resolveInInventory(cls.RecommendedModel, inventory)
	return ok
}

func isCodingModel(name string) bool {
	base := strings.ToLower(baseName(name))
	for _, marker := range []string{"coder", "code", "starcoder", "sqlcoder"} {
		if strings.Contains(base, marker) {
			return true
		}
	}
	return false
}

func baseName(model string) string {
	if idx := strings.Index(model, ":"); idx >= 0 {
		return model[:idx]
	}
	return model
}
