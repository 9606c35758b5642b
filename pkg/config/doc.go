// Package config loads and validates the host configuration.
//
// A configuration file may be YAML, JSON or CUE. Every file is checked
// against the built-in CUE #Config schema, decoded on top of Default, and
// then validated field by field:
//
//	cfg, err := config.Load("starmod.yaml")
//	if err != nil {
//		return err
//	}
//	roots := cfg.Roots()
//
// The SchemaRegistry also carries a #Manifest schema used to check package
// manifests before they are installed.
package config
