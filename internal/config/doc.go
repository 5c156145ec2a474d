// Package config defines the settings of the Casal2 package assembler and
// provides helpers to load, validate and save them as YAML or TOML.
//
// Default reproduces the historical Casal2 Linux layout, so a checkout without
// a configuration file still produces the same package.
package config
