package federation

import (
	"net"
	"strings"
)

// EndpointResolver re-discovers a peer's base_url when its configured
// address stops responding, by querying a DNS TXT convention — adapted
// from the registry's original root/peer DNS-discovery path, here used
// purely as an optional fallback rather than a primary lookup, since every
// Peer already carries an explicit base_url.
type EndpointResolver struct {
	lookupTXT func(name string) ([]string, error)
}

// NewEndpointResolver creates an EndpointResolver backed by net.LookupTXT.
func NewEndpointResolver() *EndpointResolver {
	return &EndpointResolver{lookupTXT: net.LookupTXT}
}

// Rediscover looks up "_a2a-registry.{name}" TXT records for a record of
// the form "v=a2a1 url=https://...", returning the advertised URL if found.
func (r *EndpointResolver) Rediscover(peerName string) (string, bool) {
	host := "_a2a-registry." + peerName
	txts, err := r.lookupTXT(host)
	if err != nil {
		return "", false
	}
	for _, txt := range txts {
		if !strings.HasPrefix(txt, "v=a2a1 ") {
			continue
		}
		for _, part := range strings.Fields(txt) {
			if strings.HasPrefix(part, "url=") {
				return strings.TrimPrefix(part, "url="), true
			}
		}
	}
	return "", false
}
