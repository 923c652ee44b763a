package workflow

// MergeProgress implements the §4.1 appendProgress merge rule: existing
// progress ⊕ new fields, right (new) wins per top-level key. Store
// backends call this inside their single-transaction AppendProgress
// implementation; it is exported here so every backend shares one
// definition of the merge rule instead of reimplementing it.
func MergeProgress(existing map[string]any, updates map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(updates))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}
