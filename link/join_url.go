package link

import (
	"fmt"
	"net/url"
	"strconv"
)

// ParseJoinURL implements §6's "URL form for join": any
// scheme://host:port/... is accepted, and only host and port are used.
// A bare host:port (no scheme) is also accepted since embedders
// commonly pass that shorthand.
func ParseJoinURL(raw string) (host string, port uint16, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("tcp://" + raw)
		if err != nil {
			return "", 0, fmt.Errorf("join: invalid url %q: %w", raw, err)
		}
	}
	if u.Host == "" {
		return "", 0, fmt.Errorf("join: invalid url %q: no host", raw)
	}
	h := u.Hostname()
	portStr := u.Port()
	if h == "" || portStr == "" {
		return "", 0, fmt.Errorf("join: invalid url %q: missing host or port", raw)
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("join: invalid port in %q: %w", raw, err)
	}
	return h, uint16(p), nil
}
