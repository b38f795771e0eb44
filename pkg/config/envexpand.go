package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go template
// syntax: {{.VAR_NAME}}. The $ character stays literal, so prompts, regex
// patterns and connection strings survive expansion untouched.
//
// Examples:
//   - api_key_env expansion is NOT needed (providers read keys at runtime);
//     this is for inline values like {{.REDIS_URL}} or {{.GATEWAY_PORT}}
//   - "{{.DB_HOST}}:{{.DB_PORT}}" → "localhost:5432"
//
// Missing variables expand to the empty string; validation catches required
// fields left empty. Malformed templates pass the original bytes through so
// the YAML parser can produce its own, clearer error.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok && key != "" {
			envMap[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}

	return buf.Bytes()
}
