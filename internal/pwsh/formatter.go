package pwsh

import (
	"fmt"
	"sort"
	"strings"
)

// Param is one named argument to a PowerShell command. Parameters are carried
// as an ordered slice because the rendered argument order is observable in the
// spawned command line; callers that start from a JSON object sort by name to
// keep rendering deterministic.
type Param struct {
	Name  string
	Value any
}

// ParamsFromMap converts a decoded JSON object to a name-sorted parameter list.
func ParamsFromMap(m map[string]any) []Param {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]Param, 0, len(names))
	for _, name := range names {
		params = append(params, Param{Name: name, Value: m[name]})
	}
	return params
}

// FormatParams renders parameters as a flat argument string:
//
//	string  -> -Name "value"
//	true    -> -Name
//	false   -> omitted
//	other   -> -Name value
//
// String values are interpolated verbatim. Quoting is deliberately naive:
// condition filters routinely contain single quotes (status='Open') and the
// ConnectWiseManageAPI module expects them untouched. Values containing
// double quotes are not supported on this path; secrets never travel through
// it (they go through the process environment instead).
func FormatParams(params []Param) string {
	var b strings.Builder
	for _, p := range params {
		switch v := p.Value.(type) {
		case string:
			fmt.Fprintf(&b, " -%s \"%s\"", p.Name, v)
		case bool:
			if v {
				fmt.Fprintf(&b, " -%s", p.Name)
			}
		default:
			fmt.Fprintf(&b, " -%s %v", p.Name, v)
		}
	}
	return strings.TrimPrefix(b.String(), " ")
}

// Command renders a full command invocation: name plus formatted arguments.
func Command(name string, params []Param) string {
	args := FormatParams(params)
	if args == "" {
		return name
	}
	return name + " " + args
}
