package agentcard_test

import (
	"encoding/json"
	"testing"

	"github.com/A2AReg/a2a-registry/pkg/agentcard"
	"github.com/stretchr/testify/require"
)

func validCardJSON() []byte {
	return []byte(`{
		"name": "recipe-agent",
		"description": "Suggests recipes from a pantry list",
		"url": "https://agents.example.com/recipe",
		"version": "1.0.0",
		"capabilities": {"streaming": true},
		"securitySchemes": [
			{"type": "apiKey", "in": "header", "name": "X-Api-Key"}
		],
		"skills": [
			{"id": "suggest", "name": "Suggest recipe", "tags": ["cooking"]}
		],
		"interface": {
			"preferredTransport": "jsonrpc",
			"defaultInputModes": ["text/plain"],
			"defaultOutputModes": ["application/json"]
		}
	}`)
}

func TestParse_valid(t *testing.T) {
	card, err := agentcard.Parse(validCardJSON())
	require.NoError(t, err)
	require.Equal(t, "recipe-agent", card.Name)
	require.True(t, card.Capabilities.Streaming)
	require.False(t, card.Capabilities.PushNotifications)
}

func TestParse_missingRequiredFields(t *testing.T) {
	_, err := agentcard.Parse([]byte(`{"name":"x"}`))
	require.Error(t, err)
	var verrs agentcard.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.NotEmpty(t, verrs)
}

func TestValidate_unknownSecuritySchemeType(t *testing.T) {
	card, err := agentcard.ParseRaw(validCardJSON())
	require.NoError(t, err)
	card.SecuritySchemes[0].Type = "basic"
	errs := agentcard.Validate(card)
	require.NotEmpty(t, errs)
}

func TestValidate_oauth2RequiresFlowAndTokenURL(t *testing.T) {
	card, err := agentcard.ParseRaw(validCardJSON())
	require.NoError(t, err)
	card.SecuritySchemes = []agentcard.SecurityScheme{{Type: agentcard.SecuritySchemeOAuth2}}
	errs := agentcard.Validate(card)
	require.NotEmpty(t, errs)

	var hasFlow, hasTokenURL bool
	for _, e := range errs {
		if e.FieldPath == "securitySchemes[0].flow" {
			hasFlow = true
		}
		if e.FieldPath == "securitySchemes[0].tokenUrl" {
			hasTokenURL = true
		}
	}
	require.True(t, hasFlow)
	require.True(t, hasTokenURL)
}

func TestValidate_duplicateSkillID(t *testing.T) {
	card, err := agentcard.ParseRaw(validCardJSON())
	require.NoError(t, err)
	card.Skills = append(card.Skills, card.Skills[0])
	errs := agentcard.Validate(card)
	require.NotEmpty(t, errs)
}

func TestValidate_nonAbsoluteURL(t *testing.T) {
	card, err := agentcard.ParseRaw(validCardJSON())
	require.NoError(t, err)
	card.URL = "/relative/path"
	errs := agentcard.Validate(card)
	require.NotEmpty(t, errs)
}

func TestValidate_nonSemverVersion(t *testing.T) {
	card, err := agentcard.ParseRaw(validCardJSON())
	require.NoError(t, err)
	card.Version = "latest"
	errs := agentcard.Validate(card)
	require.NotEmpty(t, errs)
}

func TestParseRaw_overSizeLimit(t *testing.T) {
	data := append([]byte(nil), validCardJSON()...)
	pad := make([]byte, agentcard.MaxCardBytes)
	for i := range pad {
		pad[i] = ' '
	}
	data = append(data[:len(data)-1], append(pad, '}')...)
	_, err := agentcard.ParseRaw(data)
	require.Error(t, err)
}

func TestCapabilities_unknownFlagsPreserved(t *testing.T) {
	data := validCardJSON()
	var generic map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &generic))

	card, err := agentcard.ParseRaw(data)
	require.NoError(t, err)
	card.Capabilities.Extra["futureFlag"] = json.RawMessage("true")

	out, err := json.Marshal(card.Capabilities)
	require.NoError(t, err)
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &m))
	require.Contains(t, m, "futureFlag")
}

func TestCanonicalize_keySortedAndStable(t *testing.T) {
	card, err := agentcard.Parse(validCardJSON())
	require.NoError(t, err)

	c1, err := agentcard.Canonicalize(card)
	require.NoError(t, err)
	c2, err := agentcard.Canonicalize(card)
	require.NoError(t, err)
	require.Equal(t, c1, c2)

	h1, err := agentcard.ContentHash(card)
	require.NoError(t, err)
	h2, err := agentcard.ContentHash(card)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestCanonicalize_orderIndependent(t *testing.T) {
	cardA, err := agentcard.Parse(validCardJSON())
	require.NoError(t, err)

	reordered := []byte(`{
		"version": "1.0.0",
		"name": "recipe-agent",
		"interface": {
			"defaultOutputModes": ["application/json"],
			"defaultInputModes": ["text/plain"],
			"preferredTransport": "jsonrpc"
		},
		"skills": [{"tags": ["cooking"], "name": "Suggest recipe", "id": "suggest"}],
		"securitySchemes": [{"name": "X-Api-Key", "in": "header", "type": "apiKey"}],
		"capabilities": {"streaming": true},
		"description": "Suggests recipes from a pantry list",
		"url": "https://agents.example.com/recipe"
	}`)
	cardB, err := agentcard.Parse(reordered)
	require.NoError(t, err)

	h1, err := agentcard.ContentHash(cardA)
	require.NoError(t, err)
	h2, err := agentcard.ContentHash(cardB)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
