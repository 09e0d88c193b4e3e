// Package defaults provides the embedded default configuration for the
// hersite init subcommand.
package defaults

import _ "embed"

//go:embed hersite.example.yaml
var ConfigYAML []byte
