package batch

import "regexp"

// Matched close tags are checked against the open tag name below; RE2 has no
// backreferences.
var tagRe = regexp.MustCompile(`(?s)<(\w+)>(.*?)</(\w+)>`)

// tagValues holds every occurrence of one tag, in order of appearance.
type tagValues struct {
	Name   string
	Values []string
}

// extractTagValues pulls <name>...</name> spans out of a model response.
// Tags are returned in first-appearance order; repeated names accumulate
// their values in order of appearance.
func extractTagValues(text string) []tagValues {
	var ordered []tagValues
	index := make(map[string]int)

	for _, m := range tagRe.FindAllStringSubmatch(text, -1) {
		name, value, closing := m[1], m[2], m[3]
		if name != closing {
			continue
		}
		if i, ok := index[name]; ok {
			ordered[i].Values = append(ordered[i].Values, value)
			continue
		}
		index[name] = len(ordered)
		ordered = append(ordered, tagValues{Name: name, Values: []string{value}})
	}
	return ordered
}
