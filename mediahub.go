package mediahub

import _ "embed"

// OpenAPIYAML is the coordinator's API document, served at /spec.yaml.
//
//go:embed openapi.yaml
var OpenAPIYAML []byte
