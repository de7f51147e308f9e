package aggregator

import (
	"regexp"
	"strings"
)

var hashtagPattern = regexp.MustCompile(`#\w+`)

// ExtractHashtags 取出文字中的 #tag，統一轉為小寫
func ExtractHashtags(text string) []string {
	matches := hashtagPattern.FindAllString(text, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, strings.ToLower(m))
	}
	return tags
}

// normalizeHashtag 讓宣告的標籤 ("Sale"、"#Sale") 與擷取的標籤格式一致
func normalizeHashtag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	return strings.ToLower(tag)
}

// mergeHashtags 依首次出現順序去重
func mergeHashtags(groups ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, g := range groups {
		for _, t := range g {
			t = normalizeHashtag(t)
			if t == "" || t == "#" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
