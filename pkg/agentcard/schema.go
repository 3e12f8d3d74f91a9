// Package agentcard defines the Agent Card — the self-contained JSON
// document a producer publishes to describe an agent's endpoint,
// capabilities, skills, authentication, and provenance.
//
// An Agent Card is the normative external contract of the registry: it is
// what producers submit to Publish and what consumers receive from Get.
package agentcard

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// MaxCardBytes is the largest raw card document ParseRaw accepts. Input
// exactly at the limit is accepted; one byte over is rejected.
const MaxCardBytes = 256 * 1024

// Transport is a value of Interface.PreferredTransport.
type Transport string

const (
	TransportJSONRPC Transport = "jsonrpc"
	TransportGRPC    Transport = "grpc"
	TransportHTTP    Transport = "http"
)

// SecuritySchemeType is a value of SecurityScheme.Type.
type SecuritySchemeType string

const (
	SecuritySchemeAPIKey SecuritySchemeType = "apiKey"
	SecuritySchemeOAuth2 SecuritySchemeType = "oauth2"
	SecuritySchemeJWT    SecuritySchemeType = "jwt"
	SecuritySchemeMTLS   SecuritySchemeType = "mTLS"
)

// OAuth2Flow is a value of SecurityScheme.Flow, required when Type is oauth2.
type OAuth2Flow string

const (
	OAuth2FlowClientCredentials OAuth2Flow = "client_credentials"
	OAuth2FlowAuthorizationCode OAuth2Flow = "authorization_code"
	OAuth2FlowPassword          OAuth2Flow = "password"
)

// Capabilities lists the optional protocol features an agent supports. All
// flags default to false. Unknown flags present in the submitted JSON are
// preserved in Extra so forward-compatible extensions are never lost.
type Capabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`

	// Extra holds any flags not named above, keyed by their JSON field name.
	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON flattens the known flags and Extra into a single object so
// canonicalization sees one flat set of keys.
func (c Capabilities) MarshalJSON() ([]byte, error) {
	m := map[string]json.RawMessage{}
	for k, v := range c.Extra {
		m[k] = v
	}
	set := func(k string, v bool) {
		if v {
			m[k] = json.RawMessage("true")
		} else if _, known := m[k]; !known {
			m[k] = json.RawMessage("false")
		}
	}
	set("streaming", c.Streaming)
	set("pushNotifications", c.PushNotifications)
	set("stateTransitionHistory", c.StateTransitionHistory)
	return json.Marshal(m)
}

// UnmarshalJSON captures the known flags and stashes everything else in Extra.
func (c *Capabilities) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.Extra = map[string]json.RawMessage{}
	for k, v := range m {
		switch k {
		case "streaming":
			_ = json.Unmarshal(v, &c.Streaming)
		case "pushNotifications":
			_ = json.Unmarshal(v, &c.PushNotifications)
		case "stateTransitionHistory":
			_ = json.Unmarshal(v, &c.StateTransitionHistory)
		default:
			c.Extra[k] = v
		}
	}
	return nil
}

// SecurityScheme describes one authentication mechanism an agent accepts.
type SecurityScheme struct {
	Type     SecuritySchemeType `json:"type"`
	Flow     OAuth2Flow         `json:"flow,omitempty"`     // oauth2 only
	TokenURL string             `json:"tokenUrl,omitempty"` // oauth2 only
	In       string             `json:"in,omitempty"`       // apiKey only: "header" | "query"
	Name     string             `json:"name,omitempty"`     // apiKey only: header/query name
	JWKSURL  string             `json:"jwksUrl,omitempty"`  // jwt only
}

// Skill describes a single capability or task type the agent supports.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags"`
}

// Interface describes the agent's transport and content-type contract.
type Interface struct {
	PreferredTransport Transport `json:"preferredTransport"`
	DefaultInputModes  []string  `json:"defaultInputModes"`
	DefaultOutputModes []string  `json:"defaultOutputModes"`
}

// Provider identifies the organization that operates the agent.
type Provider struct {
	Organization string `json:"organization"`
	URL          string `json:"url,omitempty"`
}

// Signature is a structurally-validated detached signature over the card's
// canonical bytes. The validator checks structure only; the publish path
// does not verify it against JWKSURL (internal/signing.CardVerifier can).
type Signature struct {
	Protected string `json:"protected"`
	Signature string `json:"signature"`
	JWKSURL   string `json:"jwksUrl,omitempty"`
}

// Card is the Agent Card as defined by spec.md §6. Required fields: Name,
// Description, URL, Version, Capabilities, SecuritySchemes, Skills,
// Interface. Unknown top-level fields are not currently preserved — only
// Capabilities.Extra is, per spec.md §4.1.
type Card struct {
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	URL             string           `json:"url"`
	Version         string           `json:"version"`
	Capabilities    Capabilities     `json:"capabilities"`
	SecuritySchemes []SecurityScheme `json:"securitySchemes"`
	Skills          []Skill          `json:"skills"`
	Interface       Interface        `json:"interface"`

	Provider         *Provider  `json:"provider,omitempty"`
	DocumentationURL string     `json:"documentationUrl,omitempty"`
	Signature        *Signature `json:"signature,omitempty"`
}

// ParseRaw decodes an Agent Card from JSON without validating it. Use
// Validate to apply the schema rules of spec.md §4.1.
func ParseRaw(data []byte) (*Card, error) {
	if len(data) > MaxCardBytes {
		return nil, fmt.Errorf("agentcard: %d bytes exceeds max card size %d", len(data), MaxCardBytes)
	}
	var card Card
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("agentcard: decode: %w", err)
	}
	return &card, nil
}

// absoluteHTTPURL reports whether s parses as an absolute http(s) URL.
func absoluteHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// isSemver reports whether s is plausibly a semantic version (major.minor.patch,
// optional pre-release/build metadata). Pragmatic check, not a full SemVer
// 2.0.0 grammar.
func isSemver(s string) bool {
	core, _, _ := strings.Cut(s, "+")
	core, _, _ = strings.Cut(core, "-")
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}
