// Package config defines the configuration of a fieldmesh node and the
// default values applied when options are left unspecified.
package config
