package envutil

import (
	"os"
	"strings"
)

// Prefix is the optional namespace for every collabd environment variable
const Prefix = "COLLABD_"

// Lookup finds key in the environment, trying the exact name first and then
// the COLLABD_-prefixed name.
func Lookup(key string) (string, bool) {
	if value, exists := os.LookupEnv(key); exists {
		return value, true
	}
	if !strings.HasPrefix(key, Prefix) {
		if value, exists := os.LookupEnv(Prefix + key); exists {
			return value, true
		}
	}
	return "", false
}

// Get is Lookup with a fallback for unset variables
func Get(key, fallback string) string {
	if value, ok := Lookup(key); ok {
		return value
	}
	return fallback
}
