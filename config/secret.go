package config

import (
	"github.com/awnumar/memguard"
	"github.com/pkg/errors"
)

// Secret keeps a credential encrypted in memory between uses.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret returns nil for an empty value so callers can tell "not configured".
func NewSecret(value string) *Secret {
	if value == "" {
		return nil
	}
	return &Secret{
		enclave: memguard.NewEnclave([]byte(value)),
	}
}

// TakeSecret moves the value of a config field into a Secret and clears the field.
func TakeSecret(field *string) *Secret {
	secret := NewSecret(*field)
	*field = ""
	return secret
}

// Reveal returns a plain copy of the secret; a nil Secret reveals "".
func (s *Secret) Reveal() (string, error) {
	if s == nil {
		return "", nil
	}
	buffer, err := s.enclave.Open()
	if err != nil {
		return "", errors.Wrap(err, "unable to open secret")
	}
	defer buffer.Destroy()
	return string(buffer.Bytes()), nil
}
