package fieldui

import (
	"math"
	"sort"
)

// ToggleIndex returns a new ascending list with point added if it was absent
// or removed if it was present.
func ToggleIndex(list []int, point int) []int {
	out := make([]int, 0, len(list)+1)
	pos := sort.SearchInts(list, point)
	if pos < len(list) && list[pos] == point {
		out = append(out, list[:pos]...)
		return append(out, list[pos+1:]...)
	}
	out = append(out, list[:pos]...)
	out = append(out, point)
	return append(out, list[pos:]...)
}

// IndexLists normalizes a stored index-selection value into one ascending,
// duplicate-free list per dataset. Values that do not have the expected
// shape are dropped.
func IndexLists(v any) [][]int {
	var lists [][]int
	switch val := v.(type) {
	case [][]int:
		for _, item := range val {
			lists = append(lists, normalize(append([]int(nil), item...)))
		}
	case []any:
		for _, item := range val {
			lists = append(lists, normalize(intsOf(item)))
		}
	}
	return lists
}

func intsOf(v any) []int {
	var out []int
	switch list := v.(type) {
	case []int:
		out = append(out, list...)
	case []any:
		for _, item := range list {
			switch n := item.(type) {
			case float64:
				if n >= 0 && n == math.Trunc(n) {
					out = append(out, int(n))
				}
			case int:
				if n >= 0 {
					out = append(out, n)
				}
			}
		}
	}
	return out
}

func normalize(list []int) []int {
	sort.Ints(list)
	out := make([]int, 0, len(list))
	for _, v := range list {
		if len(out) > 0 && out[len(out)-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}
