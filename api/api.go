// Package api содержит встроенную OpenAPI-спецификацию для Swagger UI.
package api

import _ "embed"

//go:embed openapi.json
var OpenAPISpec []byte
