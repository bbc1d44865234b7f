// Package personalize substitutes recipient variables into campaign
// templates. Placeholders look like {{key}} and match case-insensitively;
// a missing variable renders as the empty string. Substituted values are
// never re-scanned for placeholders, so a variable containing {{...}}
// cannot inject further expansion.
package personalize

import "strings"

// Render replaces every {{key}} placeholder in template with the matching
// variable's value, or the empty string when no variable matches. Keys are
// compared case-insensitively after trimming surrounding whitespace.
func Render(template string, vars map[string]string) string {
	if template == "" {
		return ""
	}

	lookup := make(map[string]string, len(vars))
	for k, v := range vars {
		lookup[strings.ToLower(strings.TrimSpace(k))] = v
	}

	var b strings.Builder
	b.Grow(len(template))

	rest := template
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		close := strings.Index(rest[open+2:], "}}")
		if close < 0 {
			b.WriteString(rest)
			break
		}

		b.WriteString(rest[:open])
		key := strings.ToLower(strings.TrimSpace(rest[open+2 : open+2+close]))
		// Single pass over the input only: the value goes straight to the
		// output and is never re-scanned.
		b.WriteString(lookup[key])
		rest = rest[open+2+close+2:]
	}

	return b.String()
}

// Variables normalizes a recipient's raw variable map for rendering and
// derives firstName/lastName from a name field when they were not supplied
// independently.
func Variables(raw map[string]string) map[string]string {
	vars := make(map[string]string, len(raw)+2)
	for k, v := range raw {
		vars[strings.ToLower(strings.TrimSpace(k))] = v
	}

	if name, ok := vars["name"]; ok {
		fields := strings.Fields(name)
		if _, has := vars["firstname"]; !has && len(fields) > 0 {
			vars["firstname"] = fields[0]
		}
		if _, has := vars["lastname"]; !has && len(fields) > 1 {
			vars["lastname"] = strings.Join(fields[1:], " ")
		}
	}

	return vars
}
