package core

import (
	"os"
)

// Env selects production or development behaviour
type Env string

const (
	EnvProd Env = "PROD"
	EnvDev  Env = "DEV"
)

// ResolveEnv reads ENV, falling back to GO_ENV. Only "production" selects PROD.
func ResolveEnv() Env {
	value := os.Getenv("ENV")
	if value == "" {
		value = os.Getenv("GO_ENV")
	}
	if value == "production" {
		return EnvProd
	}
	return EnvDev
}

// IsProd reports whether e is the production environment
func (e Env) IsProd() bool {
	return e == EnvProd
}
