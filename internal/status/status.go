// Package status maps feature status codes to display labels and colors.
package status

import "sort"

type Style struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

var Unknown = Style{Label: "Unknown", Color: "rgb(0, 0, 0)"}

var table = map[int]Style{
	1:  {Label: "Low Population", Color: "rgb(255, 0, 0)"},
	2:  {Label: "Best", Color: "rgb(55, 200, 200)"},
	3:  {Label: "Good", Color: "rgb(105, 200, 100)"},
	4:  {Label: "OK - Termite", Color: "rgb(245, 245, 0)"},
	5:  {Label: "Good", Color: "rgb(105, 100, 200)"},
	6:  {Label: "Good", Color: "rgb(155, 100, 100)"},
	7:  {Label: "Do not knock", Color: "rgb(255, 0, 0)"},
	8:  {Label: "OK", Color: "rgb(155, 0, 200)"},
	9:  {Label: "Do not knock", Color: "rgb(255, 0, 0)"},
	10: {Label: "Do not knock", Color: "rgb(255, 0, 0)"},
}

// Lookup returns the style for code, or Unknown.
func Lookup(code int) Style {
	if s, ok := table[code]; ok {
		return s
	}
	return Unknown
}

type Entry struct {
	Code int `json:"code"`
	Style
}

// All lists the known codes in ascending order.
func All() []Entry {
	out := make([]Entry, 0, len(table))
	for c, s := range table {
		out = append(out, Entry{Code: c, Style: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
