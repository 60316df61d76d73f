// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"gopkg.in/yaml.v3"
)

// ErrSecretNotSet is returned by Reveal for secrets absent from the file and
// the environment.
var ErrSecretNotSet = errors.New("secret not set")

// Secret holds a credential sealed in a memguard enclave.
//
// # Description
//
// The plaintext exists only for the duration of Reveal's caller. Secrets are
// never written back out: MarshalYAML emits an empty string, String returns
// a redaction marker, so a logged or dumped Config carries no credentials.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value. An empty value yields an unset Secret.
func NewSecret(value string) Secret {
	if value == "" {
		return Secret{}
	}
	return Secret{enclave: memguard.NewEnclave([]byte(value))}
}

// IsSet reports whether the secret has a value.
func (s Secret) IsSet() bool {
	return s.enclave != nil
}

// Reveal returns the plaintext. Callers must not retain or log it.
func (s Secret) Reveal() (string, error) {
	if s.enclave == nil {
		return "", ErrSecretNotSet
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// String implements fmt.Stringer with a redaction marker.
func (s Secret) String() string {
	if s.enclave == nil {
		return ""
	}
	return "[REDACTED]"
}

// UnmarshalYAML seals a scalar value.
func (s *Secret) UnmarshalYAML(value *yaml.Node) error {
	var plain string
	if err := value.Decode(&plain); err != nil {
		return err
	}
	*s = NewSecret(plain)
	return nil
}

// MarshalYAML never emits the secret.
func (s Secret) MarshalYAML() (interface{}, error) {
	return "", nil
}

// PurgeSecrets wipes every enclave key and locked buffer. Call once on exit.
func PurgeSecrets() {
	memguard.Purge()
}
