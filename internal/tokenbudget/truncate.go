package tokenbudget

// TruncateText returns the longest prefix of text that, with "..." appended,
// counts at most maxTokens. Text that already fits is returned unchanged.
// Prefixes are cut on rune boundaries.
func (m *Manager) TruncateText(text string, maxTokens int) string {
	if m.CountTokens(text) <= maxTokens {
		return text
	}

	runes := []rune(text)
	left, right := 0, len(runes)
	result := ""
	for left <= right {
		mid := left + (right-left)/2
		candidate := string(runes[:mid]) + ellipsis
		if m.CountTokens(candidate) <= maxTokens {
			result = candidate
			left = mid + 1
		} else {
			right = mid - 1
		}
	}
	return result
}
