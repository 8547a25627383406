package redeploy

import (
	"net/url"
	"regexp"
	"strings"
)

var portsPattern = regexp.MustCompile(`^(\d+:\d+)(,\d+:\d+)*$`)

// Request is the validated, typed redeployment request. Memory and CPU are
// parsed once here; nothing downstream re-coerces strings.
type Request struct {
	InstanceID string
	Image      string // raw query value, short name still embedded in parens
	Memory     int
	CPU        int
	Ports      string
	Name       string
	User       string
	Primary    string // opaque pass-through
}

// ValidateRequest applies the boundary rules in order: instance id presence,
// required query parameters (all missing names collected, in input order),
// ports syntax, then numeric memory/cpu. Pure; no store or network access.
func ValidateRequest(instanceID string, q url.Values) (Request, *Error) {
	if instanceID == "" {
		return Request{}, failf(KindInvalidInput, "instance id is required")
	}

	params := []struct {
		name  string
		value string
	}{
		{"image", q.Get("image")},
		{"memory", q.Get("memory")},
		{"cpu", q.Get("cpu")},
		{"ports", q.Get("ports")},
		{"name", q.Get("name")},
		{"user", q.Get("user")},
		{"primary", q.Get("primary")},
	}
	var missing []string
	for _, p := range params {
		if p.value == "" {
			missing = append(missing, p.name)
		}
	}
	if len(missing) > 0 {
		return Request{}, &Error{
			Kind:    KindInvalidInput,
			Message: "missing required parameters: " + strings.Join(missing, ", "),
			Missing: missing,
		}
	}

	ports := q.Get("ports")
	if !portsPattern.MatchString(ports) {
		return Request{}, failf(KindInvalidInput, "ports must be comma-separated host:container pairs, got %q", ports)
	}

	memory, ok := leadingInt(q.Get("memory"))
	if !ok {
		return Request{}, failf(KindInvalidInput, "memory must be a number, got %q", q.Get("memory"))
	}
	cpu, ok := leadingInt(q.Get("cpu"))
	if !ok {
		return Request{}, failf(KindInvalidInput, "cpu must be a number, got %q", q.Get("cpu"))
	}

	return Request{
		InstanceID: instanceID,
		Image:      q.Get("image"),
		Memory:     memory,
		CPU:        cpu,
		Ports:      ports,
		Name:       q.Get("name"),
		User:       q.Get("user"),
		Primary:    q.Get("primary"),
	}, nil
}

// leadingInt parses the longest numeric prefix, so "512mb" reads as 512.
// A value with no numeric prefix is rejected.
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	start := i
	n := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		n = n*10 + int(s[i]-'0')
		i++
	}
	if i == start {
		return 0, false
	}
	if strings.HasPrefix(s, "-") {
		n = -n
	}
	return n, true
}
