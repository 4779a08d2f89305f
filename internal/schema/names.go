package schema

import "strings"

// jsonName extracts the field name from a json or yaml struct tag
func jsonName(tag string) string {
	name := strings.SplitN(tag, ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// trimRoot drops the Go type name validator puts in front of every namespace
func trimRoot(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
