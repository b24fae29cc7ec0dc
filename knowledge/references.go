package knowledge

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var (
	articleRefPattern = regexp.MustCompile(`(?i)\barticles?\s+(\d+[a-z]?)((?:\s*(?:,|et|ou|and|or)\s*\d+[a-z]?)*)`)
	articleNumPattern = regexp.MustCompile(`\d+[a-zA-Z]?`)
)

// ExtractReferences lists the article numbers cited in text, excluding self,
// deduplicated and in ascending article order. It recognises "article 5",
// "Articles 6 et 7" and "articles 8, 9 ou 10".
func ExtractReferences(text, self string) []string {
	seen := make(map[string]struct{})
	var refs []string
	for _, match := range articleRefPattern.FindAllStringSubmatch(text, -1) {
		numbers := append([]string{match[1]}, articleNumPattern.FindAllString(match[2], -1)...)
		for _, number := range numbers {
			number = strings.ToLower(number)
			if number == self {
				continue
			}
			if _, ok := seen[number]; ok {
				continue
			}
			seen[number] = struct{}{}
			refs = append(refs, number)
		}
	}
	sort.SliceStable(refs, func(i, j int) bool {
		ki, kj := ArticleSortKey(refs[i]), ArticleSortKey(refs[j])
		if ki != kj {
			return ki < kj
		}
		return refs[i] < refs[j]
	})
	return refs
}

// ArticleSortKey orders article numbers numerically, with a letter suffix
// sorting right after its base number ("6" < "6a" < "7").
func ArticleSortKey(number string) int {
	digits := strings.TrimRightFunc(number, func(r rune) bool { return !unicode.IsDigit(r) })
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	key := n * 100
	if suffix := strings.ToLower(strings.TrimPrefix(number, digits)); len(suffix) == 1 && suffix[0] >= 'a' && suffix[0] <= 'z' {
		key += int(suffix[0]-'a') + 1
	}
	return key
}
