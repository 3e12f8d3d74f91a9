package agentcard

import "fmt"

// FieldError is a single validation failure against one field path.
type FieldError struct {
	FieldPath string
	Reason    string
}

func (f FieldError) Error() string { return fmt.Sprintf("%s: %s", f.FieldPath, f.Reason) }

// ValidationErrors aggregates every FieldError found while validating a
// card. The validator never stops at the first failure — spec.md §4.1
// requires the full set.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "no validation errors"
	}
	s := fmt.Sprintf("%d validation error(s): %s", len(v), v[0].Error())
	if len(v) > 1 {
		s += fmt.Sprintf(" (and %d more)", len(v)-1)
	}
	return s
}

// Validate checks c against the rules of spec.md §4.1 and returns every
// violation found, or nil if c is valid. It does not mutate c.
func Validate(c *Card) ValidationErrors {
	var errs ValidationErrors
	add := func(path, reason string) {
		errs = append(errs, FieldError{FieldPath: path, Reason: reason})
	}

	if c.Name == "" {
		add("name", "required")
	}
	if c.Description == "" {
		add("description", "required")
	}
	if c.URL == "" {
		add("url", "required")
	} else if !absoluteHTTPURL(c.URL) {
		add("url", "must be an absolute http or https URL")
	}
	if c.Version == "" {
		add("version", "required")
	} else if !isSemver(c.Version) {
		add("version", "must be a semantic version")
	}

	if len(c.SecuritySchemes) == 0 {
		add("securitySchemes", "at least one security scheme is required")
	}
	for i, s := range c.SecuritySchemes {
		path := fmt.Sprintf("securitySchemes[%d]", i)
		validateSecurityScheme(path, s, add)
	}

	if len(c.Skills) == 0 {
		add("skills", "at least one skill is required")
	}
	seenSkillIDs := make(map[string]bool, len(c.Skills))
	for i, sk := range c.Skills {
		path := fmt.Sprintf("skills[%d]", i)
		if sk.ID == "" {
			add(path+".id", "required")
		} else if seenSkillIDs[sk.ID] {
			add(path+".id", "must be unique within the card")
		} else {
			seenSkillIDs[sk.ID] = true
		}
		if len(sk.Tags) == 0 {
			add(path+".tags", "must be non-empty")
		}
	}

	if c.Interface.PreferredTransport == "" {
		add("interface.preferredTransport", "required")
	} else {
		switch c.Interface.PreferredTransport {
		case TransportJSONRPC, TransportGRPC, TransportHTTP:
		default:
			add("interface.preferredTransport", "must be one of jsonrpc, grpc, http")
		}
	}
	if len(c.Interface.DefaultInputModes) == 0 {
		add("interface.defaultInputModes", "must be non-empty")
	}
	if len(c.Interface.DefaultOutputModes) == 0 {
		add("interface.defaultOutputModes", "must be non-empty")
	}

	if c.Signature != nil {
		if c.Signature.Protected == "" {
			add("signature.protected", "required when signature is present")
		}
		if c.Signature.Signature == "" {
			add("signature.signature", "required when signature is present")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateSecurityScheme(path string, s SecurityScheme, add func(path, reason string)) {
	switch s.Type {
	case SecuritySchemeAPIKey:
		if s.In == "" {
			add(path+".in", "required for apiKey scheme")
		}
		if s.Name == "" {
			add(path+".name", "required for apiKey scheme")
		}
	case SecuritySchemeOAuth2:
		switch s.Flow {
		case OAuth2FlowClientCredentials, OAuth2FlowAuthorizationCode, OAuth2FlowPassword:
		default:
			add(path+".flow", "must be one of client_credentials, authorization_code, password")
		}
		if s.TokenURL == "" {
			add(path+".tokenUrl", "required for oauth2 scheme")
		}
	case SecuritySchemeJWT:
		// jwksUrl is optional — absence just means signature verification
		// (when a card signature is present) cannot be performed.
	case SecuritySchemeMTLS:
		// no per-type required fields beyond Type itself.
	default:
		add(path+".type", "must be one of apiKey, oauth2, jwt, mTLS")
	}
}

// Parse decodes and validates an Agent Card in one step.
func Parse(data []byte) (*Card, error) {
	card, err := ParseRaw(data)
	if err != nil {
		return nil, err
	}
	if errs := Validate(card); errs != nil {
		return nil, errs
	}
	return card, nil
}
