// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for every persisted entity.
const (
	PrefixTenant      = "stn_"
	PrefixSender      = "ssn_"
	PrefixEvent       = "sev_"
	PrefixDestination = "sed_"
	PrefixInstance    = "sei_"
	PrefixWebhook     = "sdw_"
	PrefixIntent      = "sdi_"
	PrefixAttempt     = "sda_"
	PrefixTask        = "stk_"

	// PrefixSigningSecret is prepended to generated webhook signing secrets.
	PrefixSigningSecret = "metorial_whsec_"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 20

// SecretLength is the number of random characters in a signing secret.
var SecretLength = 50

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// SigningSecret returns a fresh webhook signing secret.
func SigningSecret() (string, error) {
	s, err := nanoid.Generate(Alphabet, SecretLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return PrefixSigningSecret + s, nil
}
