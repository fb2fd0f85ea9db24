package openapi

import "github.com/getkin/kin-openapi/openapi3"

// Component schema names.
const (
	schemaError            = "ErrorResponse"
	schemaRateLimit        = "RateLimitResponse"
	schemaMessage          = "MessageResponse"
	schemaGenerateRequest  = "GenerateKeyRequest"
	schemaGenerateResponse = "GenerateKeyResponse"
	schemaPurge            = "PurgeResponse"
	schemaRegisterRequest  = "RegisterEndpointRequest"
	schemaStatus           = "StatusResponse"
	schemaEndpoint         = "EndpointResponse"
	schemaContentRequest   = "FileContentRequest"
	schemaStructure        = "FileStructure"
	schemaContent          = "FileContent"
)

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func object(required []string, props map[string]*openapi3.Schema) *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema()
	for name, p := range props {
		s.WithProperty(name, p)
	}
	s.Required = required
	return s.NewRef()
}

func nullableTime() *openapi3.Schema {
	return openapi3.NewDateTimeSchema().WithNullable()
}

// componentSchemas mirrors the JSON bodies in internal/model.
func componentSchemas() openapi3.Schemas {
	return openapi3.Schemas{
		schemaError: object([]string{"detail"}, map[string]*openapi3.Schema{
			"detail": openapi3.NewStringSchema(),
		}),
		schemaRateLimit: object([]string{"detail", "limit", "reset_at"}, map[string]*openapi3.Schema{
			"detail":   openapi3.NewStringSchema(),
			"limit":    openapi3.NewIntegerSchema(),
			"reset_at": openapi3.NewDateTimeSchema(),
		}),
		schemaMessage: object([]string{"message"}, map[string]*openapi3.Schema{
			"message": openapi3.NewStringSchema(),
		}),
		schemaGenerateRequest: object(nil, map[string]*openapi3.Schema{
			"expiration_days":     openapi3.NewIntegerSchema().WithMin(0),
			"requests_per_minute": openapi3.NewIntegerSchema().WithMin(1),
		}),
		schemaGenerateResponse: object([]string{"api_key", "rate_limit"}, map[string]*openapi3.Schema{
			"api_key":    openapi3.NewStringSchema(),
			"expires_at": nullableTime(),
			"rate_limit": openapi3.NewIntegerSchema(),
			"message":    openapi3.NewStringSchema(),
		}),
		schemaPurge: object([]string{"message", "total_requests"}, map[string]*openapi3.Schema{
			"message":        openapi3.NewStringSchema(),
			"key_prefix":     openapi3.NewStringSchema(),
			"total_requests": openapi3.NewInt64Schema(),
			"created_at":     openapi3.NewDateTimeSchema(),
			"last_used":      nullableTime(),
		}),
		schemaRegisterRequest: object([]string{"api_key", "ngrok_url"}, map[string]*openapi3.Schema{
			"api_key":   openapi3.NewStringSchema(),
			"ngrok_url": openapi3.NewStringSchema().WithFormat("uri"),
		}),
		schemaStatus: object([]string{"status", "message"}, map[string]*openapi3.Schema{
			"status":  openapi3.NewStringSchema(),
			"message": openapi3.NewStringSchema(),
		}),
		schemaEndpoint: object([]string{"api_key", "ngrok_url"}, map[string]*openapi3.Schema{
			"api_key":   openapi3.NewStringSchema(),
			"ngrok_url": openapi3.NewStringSchema(),
		}),
		schemaContentRequest: object([]string{"file_paths"}, map[string]*openapi3.Schema{
			"file_paths": openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()).WithMinItems(1),
		}),
		schemaStructure: openapi3.NewObjectSchema().WithAdditionalProperties(
			openapi3.NewObjectSchema().
				WithProperty("files", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
				WithProperty("directories", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())),
		).NewRef(),
		schemaContent: openapi3.NewObjectSchema().WithAdditionalProperties(
			openapi3.NewObjectSchema().
				WithProperty("content", openapi3.NewStringSchema()).
				WithProperty("error", openapi3.NewStringSchema()),
		).NewRef(),
	}
}
