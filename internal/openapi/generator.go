// Package openapi describes the gateway's HTTP surface as an OpenAPI 3.1
// document.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

const securityName = "apiKey"

// GenerateGatewaySpec builds the OpenAPI document for a gateway reachable at
// baseURL that reads API keys from apiKeyHeader.
func GenerateGatewaySpec(baseURL, apiKeyHeader string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "CodeQuery Gateway",
			Description: "Routes API-key authenticated file requests to the tunnel endpoint registered for the key.",
			Version:     "1.0.0",
		},
	}
	if baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: baseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		securityName: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "header",
				Name: apiKeyHeader,
			},
		},
	}
	doc.Components = &components
	doc.Security = openapi3.SecurityRequirements{{securityName: {}}}
	doc.Paths = openapi3.NewPaths()

	doc.Paths.Set("/", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"health"},
			Summary:     "Liveness check",
			OperationID: "health",
			Security:    noSecurity(),
			Responses:   newResponses("200", "Gateway is running", ref(schemaMessage)),
		},
	})

	doc.Paths.Set("/files/structure", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"files"},
			Summary:     "Directory structure of the registered codebase",
			OperationID: "file_structure",
			Responses:   withAdmissionErrors(newResponses("200", "Folders with their files and subdirectories", ref(schemaStructure))),
		},
	})

	doc.Paths.Set("/files/content", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"files"},
			Summary:     "Contents of the requested files",
			OperationID: "file_content",
			RequestBody: jsonBody(schemaContentRequest, true),
			Responses:   withAdmissionErrors(newResponses("200", "Content or error per requested path", ref(schemaContent), "400")),
		},
	})

	doc.Paths.Set("/api-keys/generate", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Generate an API key",
			Description: "The key is returned once and cannot be retrieved later.",
			OperationID: "generate_key",
			Security:    noSecurity(),
			RequestBody: jsonBody(schemaGenerateRequest, false),
			Responses:   newResponses("200", "Generated key", ref(schemaGenerateResponse), "400", "429"),
		},
	})

	doc.Paths.Set("/api-keys/{key}", &openapi3.PathItem{
		Delete: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Purge an API key",
			Description: "Allowed for the key itself or the admin key. The admin key cannot be purged.",
			OperationID: "purge_key",
			Parameters:  openapi3.Parameters{pathParam("key")},
			Responses:   withAdmissionErrors(newResponses("200", "Purge receipt", ref(schemaPurge), "403", "404")),
		},
	})

	doc.Paths.Set("/ngrok-urls/", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"endpoints"},
			Summary:     "Register the tunnel URL of a key",
			OperationID: "register_endpoint",
			RequestBody: jsonBody(schemaRegisterRequest, true),
			Responses:   newResponses("200", "Endpoint stored", ref(schemaStatus), "400", "401", "403", "404"),
		},
	})

	doc.Paths.Set("/ngrok-urls/{api_key}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"endpoints"},
			Summary:     "Registered tunnel URL of a key",
			OperationID: "get_endpoint",
			Parameters:  openapi3.Parameters{pathParam("api_key")},
			Responses:   newResponses("200", "Registered endpoint", ref(schemaEndpoint), "401", "403", "404"),
		},
	})

	return doc
}

func noSecurity() *openapi3.SecurityRequirements {
	return &openapi3.SecurityRequirements{}
}

func pathParam(name string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema()),
	}
}

func jsonBody(schema string, required bool) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: required,
			Content:  openapi3.NewContentWithJSONSchemaRef(ref(schema)),
		},
	}
}

var errorDescriptions = map[string]string{
	"400": "Bad request",
	"401": "Missing, invalid or expired API key",
	"403": "Forbidden",
	"404": "Not found",
	"429": "Rate limit exceeded",
	"500": "Internal server error",
}

// newResponses builds a Responses map with a success response, a 500, and
// the listed error statuses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errorCodes ...string) *openapi3.Responses {
	responses := openapi3.NewResponses()

	desc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})
	for _, code := range append(errorCodes, "500") {
		addError(responses, code)
	}
	return responses
}

func addError(responses *openapi3.Responses, code string) {
	desc := errorDescriptions[code]
	schema := ref(schemaError)
	if code == "429" {
		schema = ref(schemaRateLimit)
	}
	responses.Set(code, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})
}

// withAdmissionErrors adds the responses every admitted route can produce.
func withAdmissionErrors(responses *openapi3.Responses) *openapi3.Responses {
	addError(responses, "401")
	addError(responses, "429")
	return responses
}
