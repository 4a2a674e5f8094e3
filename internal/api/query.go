package api

import (
	"net/url"
	"strings"

	"github.com/kuitang/thoughtflow/internal/thoughts"
)

// ParseFilterQuery reads q, start, end (YYYY-MM-DD), repeated tag ids and
// order from an export query string.
func ParseFilterQuery(v url.Values) (thoughts.FilterState, error) {
	state := thoughts.FilterState{
		Query: v.Get("q"),
		Sort:  thoughts.ParseSortOrder(v.Get("order")),
	}
	var err error
	if state.Start, err = thoughts.ParseDate(v.Get("start"), "start"); err != nil {
		return thoughts.FilterState{}, err
	}
	if state.End, err = thoughts.ParseDate(v.Get("end"), "end"); err != nil {
		return thoughts.FilterState{}, err
	}
	seen := make(map[string]bool)
	for _, id := range v["tag"] {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		state.SelectedTags = append(state.SelectedTags, id)
	}
	return state, nil
}

// FilterQuery is the inverse of ParseFilterQuery.
func FilterQuery(state thoughts.FilterState) url.Values {
	v := url.Values{}
	if q := strings.TrimSpace(state.Query); q != "" {
		v.Set("q", q)
	}
	if d := thoughts.FormatDate(state.Start); d != "" {
		v.Set("start", d)
	}
	if d := thoughts.FormatDate(state.End); d != "" {
		v.Set("end", d)
	}
	for _, id := range state.SelectedTags {
		v.Add("tag", id)
	}
	v.Set("order", state.Sort.String())
	return v
}
