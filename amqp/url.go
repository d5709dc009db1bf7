package amqp

import "strings"

// URL is a parsed AMQP connection address of the form
//
//	[scheme://][user[:password]@]host[:port][/path]
//
// Port may be a service name ("amqp", "amqps") rather than a number.
type URL struct {
	scheme   string
	user     string
	password string
	host     string
	port     string
	path     string
}

// ParseURL parses s and substitutes defaults for absent components:
// scheme defaults to "amqp", host to "localhost" and port to the scheme
// name. Bare "host:port", "host", "/path" and the empty string are all
// accepted. ParseURL never fails; an unparsable tail ends up in the host.
func ParseURL(s string) URL {
	u := parseURL(s)
	if u.scheme == "" {
		u.scheme = "amqp"
	}
	if u.host == "" {
		u.host = "localhost"
	}
	if u.port == "" {
		u.port = u.scheme
	}
	return u
}

// ParseURLRaw parses s like ParseURL but substitutes nothing: components
// that are absent from the input stay empty.
func ParseURLRaw(s string) URL {
	return parseURL(s)
}

func parseURL(s string) URL {
	var u URL
	rest := s

	if i := strings.Index(rest, "://"); i >= 0 {
		u.scheme = rest[:i]
		rest = rest[i+3:]
	} else {
		rest = strings.TrimPrefix(rest, "//")
	}

	if i := strings.IndexByte(rest, '/'); i >= 0 {
		u.path = rest[i+1:]
		rest = rest[:i]
	}

	if i := strings.LastIndexByte(rest, '@'); i >= 0 {
		userinfo := rest[:i]
		rest = rest[i+1:]
		if j := strings.IndexByte(userinfo, ':'); j >= 0 {
			u.user = userinfo[:j]
			u.password = userinfo[j+1:]
		} else {
			u.user = userinfo
		}
	}

	if i := strings.LastIndexByte(rest, ':'); i >= 0 {
		u.host = rest[:i]
		u.port = rest[i+1:]
	} else {
		u.host = rest
	}

	return u
}

func (u URL) Scheme() string   { return u.scheme }
func (u URL) User() string     { return u.user }
func (u URL) Password() string { return u.password }
func (u URL) Host() string     { return u.host }
func (u URL) Port() string     { return u.port }
func (u URL) Path() string     { return u.path }

// HostPort returns "host:port" suitable for net.Dial or net.Listen, with
// the well-known scheme ports substituted for service-name ports.
func (u URL) HostPort() string {
	port := u.port
	switch port {
	case "amqp":
		port = "5672"
	case "amqps":
		port = "5671"
	}
	return u.host + ":" + port
}

// String renders the URL back into its textual form.
func (u URL) String() string {
	var b strings.Builder
	if u.scheme != "" {
		b.WriteString(u.scheme)
		b.WriteString("://")
	}
	if u.user != "" || u.password != "" {
		b.WriteString(u.user)
		if u.password != "" {
			b.WriteByte(':')
			b.WriteString(u.password)
		}
		b.WriteByte('@')
	}
	b.WriteString(u.host)
	if u.port != "" {
		b.WriteByte(':')
		b.WriteString(u.port)
	}
	if u.path != "" {
		b.WriteByte('/')
		b.WriteString(u.path)
	}
	return b.String()
}
