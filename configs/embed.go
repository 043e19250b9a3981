// Package configs holds the configuration templates compiled into the loki
// binary.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .loki.yaml by 'loki config init'. It
// carries the built-in defaults with a comment on each non-obvious key.
//
//go:embed loki.example.yaml
var ProjectConfigTemplate string
