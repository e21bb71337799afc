// Package configs embeds the configuration template shipped with the
// binary. `petrel config init` writes it as a starting point; the
// loader itself never reads it.
//
// Resolution order (see internal/config.Load):
//  1. Hardcoded defaults
//  2. petrel.yaml in the working directory, or $PETREL_CONFIG
//  3. Environment variables
package configs

import _ "embed"

// ConfigTemplate is the annotated example written by `petrel config
// init` as petrel.yaml.
//
//go:embed petrel.example.yaml
var ConfigTemplate string
