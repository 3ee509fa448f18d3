package metrics

// NumericField extracts a named numeric field from a sequence of trial
// records. Records where the field is absent or not numeric are skipped,
// so a partially restored buffer still yields usable summary statistics.
func NumericField(trials []map[string]any, key string) []float64 {
	out := make([]float64, 0, len(trials))
	for _, trial := range trials {
		raw, ok := trial[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			out = append(out, v)
		case float32:
			out = append(out, float64(v))
		case int:
			out = append(out, float64(v))
		case int64:
			out = append(out, float64(v))
		}
	}
	return out
}

// CountCorrect counts trials whose "correct" field is true.
func CountCorrect(trials []map[string]any) int {
	n := 0
	for _, trial := range trials {
		if correct, ok := trial["correct"].(bool); ok && correct {
			n++
		}
	}
	return n
}
