package router

import "strings"

// separator joins the service prefix with the inner method or tool name.
const separator = "_"

// Split divides a prefixed name into its service prefix and inner part.
// ok is false when the name carries no separator at all.
func Split(name string) (prefix, inner string, ok bool) {
	index := strings.Index(name, separator)
	if index < 0 {
		return "", name, false
	}
	return name[:index], name[index+len(separator):], true
}

// Join produces the externally visible prefixed form of an inner name.
func Join(prefix, inner string) string {
	return prefix + separator + inner
}
