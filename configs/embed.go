// Package configs embeds the configuration template written by
// `urlindex config init`.
package configs

import _ "embed"

// UserConfigTemplate is written to ~/.config/urlindex/config.yaml. Every
// setting is present with its default value.
//
//go:embed config.example.yaml
var UserConfigTemplate string
