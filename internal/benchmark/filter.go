package benchmark

import (
	"regexp"
	"sort"
	"strings"
)

// BuildFilter returns an anchored alternation that matches exactly the given
// case ids. Ids are escaped so that regex metacharacters and '/' match
// literally, de-duplicated and sorted for a reproducible expression.
//
// A capturing group is used because the benchmark binary's regex engine may
// not accept non-capturing groups.
func BuildFilter(caseIDs []string) (string, error) {
	if len(caseIDs) == 0 {
		return "", ErrEmptyFilter
	}

	seen := make(map[string]struct{}, len(caseIDs))
	escaped := make([]string, 0, len(caseIDs))
	for _, id := range caseIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		escaped = append(escaped, escapeCaseID(id))
	}
	sort.Strings(escaped)

	return "^(" + strings.Join(escaped, "|") + ")$", nil
}

func escapeCaseID(id string) string {
	return strings.ReplaceAll(regexp.QuoteMeta(id), "/", `\/`)
}
