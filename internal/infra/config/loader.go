package config

import (
	"os"
	"strings"
)

// HomeEnv names the environment variable that selects the home directory
const HomeEnv = "MDTXN_HOME"

// DefaultHome is used when neither the flag nor HomeEnv is set
const DefaultHome = ".mdtxn"

// ResolveHome returns the home directory.
// Priority: flag > MDTXN_HOME > ".mdtxn"
func ResolveHome(flag string) string {
	get := func(k, def string) string {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
		return def
	}
	if flag = strings.TrimSpace(flag); flag != "" {
		return flag
	}
	return get(HomeEnv, DefaultHome)
}
