package session

import (
	"net"
	"strconv"
	"strings"

	"github.com/sqlcoord/sessioncore"
)

// Transport enumerates how a connection URL reaches its database: over TCP to a remote node,
// against an in-memory database, or embedded in-process.
type Transport string

const (
	TransportTCP   Transport = "tcp"
	TransportMem   Transport = "mem"
	TransportEmbed Transport = "embed"
)

// ConnectionInfo is the parsed form of an embedded connection URL:
//
//	<url> ::= "lealone:" ("tcp://" host ":" port | "mem:" | "embed:") "/" dbname ("?" kv ("&" kv)*)?
//	kv    ::= key "=" value
//
// The raw URL is preserved so it can be persisted and handed verbatim to nested sessions
// opened against the same peer.
type ConnectionInfo struct {
	URL       string
	Transport Transport
	Host      string
	Port      int
	Database  string
	Params    map[string]string
}

const urlScheme = "lealone:"

// ParseConnectionURL parses raw per the embedded URL grammar, failing with INVALID_VALUE on
// any malformed input.
func ParseConnectionURL(raw string) (*ConnectionInfo, error) {
	if !strings.HasPrefix(raw, urlScheme) {
		return nil, sqlcoord.NewError(sqlcoord.InvalidValue, nil, raw)
	}
	rest := raw[len(urlScheme):]

	info := &ConnectionInfo{URL: raw}
	switch {
	case strings.HasPrefix(rest, "tcp://"):
		info.Transport = TransportTCP
		rest = rest[len("tcp://"):]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return nil, sqlcoord.NewError(sqlcoord.InvalidValue, nil, raw)
		}
		host, portStr, err := net.SplitHostPort(rest[:slash])
		if err != nil {
			return nil, sqlcoord.NewError(sqlcoord.InvalidValue, err, raw)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, sqlcoord.NewError(sqlcoord.InvalidValue, err, raw)
		}
		info.Host = host
		info.Port = port
		rest = rest[slash+1:]
	case strings.HasPrefix(rest, "mem:/"):
		info.Transport = TransportMem
		rest = rest[len("mem:/"):]
	case strings.HasPrefix(rest, "embed:/"):
		info.Transport = TransportEmbed
		rest = rest[len("embed:/"):]
	default:
		return nil, sqlcoord.NewError(sqlcoord.InvalidValue, nil, raw)
	}

	if q := strings.IndexByte(rest, '?'); q >= 0 {
		params, err := parseParams(rest[q+1:])
		if err != nil {
			return nil, sqlcoord.NewError(sqlcoord.InvalidValue, err, raw)
		}
		info.Params = params
		rest = rest[:q]
	}
	if rest == "" {
		return nil, sqlcoord.NewError(sqlcoord.InvalidValue, nil, raw)
	}
	info.Database = rest
	return info, nil
}

func parseParams(query string) (map[string]string, error) {
	params := make(map[string]string)
	for _, kv := range strings.Split(query, "&") {
		eq := strings.IndexByte(kv, '=')
		if eq <= 0 {
			return nil, sqlcoord.NewError(sqlcoord.InvalidValue, nil, kv)
		}
		params[kv[:eq]] = kv[eq+1:]
	}
	return params, nil
}

// PeerAddress returns "host:port" for a TCP URL, or the empty string for in-memory/embedded
// databases, which have no peer to dial.
func (c *ConnectionInfo) PeerAddress() string {
	if c.Transport != TransportTCP {
		return ""
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
