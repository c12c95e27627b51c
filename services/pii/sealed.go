// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pii

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrSealedMapDestroyed is returned by Reverse after Destroy.
var ErrSealedMapDestroyed = errors.New("sealed map destroyed")

// SealedMap holds the originals of a ReversalMap encrypted in a memguard
// enclave. Only the placeholders stay readable.
//
// # Description
//
// The originals are decrypted into a locked buffer for the length of one
// Reverse call and the buffer is destroyed before Reverse returns. After
// Destroy the enclave is dropped and Reverse fails.
//
// # Thread Safety
//
// Safe for concurrent use.
type SealedMap struct {
	mu           sync.Mutex
	enclave      *memguard.Enclave
	placeholders []string
	destroyed    bool
}

// Seal moves the originals of the call's map into a SealedMap and clears
// the call's own copies, entity texts included. Later Anonymize calls on c
// start a fresh map but keep avoiding the sealed placeholders.
func (c *Call) Seal() (*SealedMap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sealed, err := SealMap(c.reversal)
	if err != nil {
		return nil, err
	}
	clear(c.reversal)
	clear(c.assigned)
	for i := range c.entities {
		c.entities[i].Text = ""
	}
	return sealed, nil
}

// SealMap encrypts a copy of m. The plaintext encoding is wiped once it
// is inside the enclave.
func SealMap(m ReversalMap) (*SealedMap, error) {
	s := &SealedMap{placeholders: make([]string, 0, len(m))}
	for p := range m {
		s.placeholders = append(s.placeholders, p)
	}
	slices.Sort(s.placeholders)
	if len(m) == 0 {
		return s, nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reversal map: %w", err)
	}
	// NewEnclave wipes data.
	s.enclave = memguard.NewEnclave(data)
	if s.enclave == nil {
		return nil, errors.New("failed to create enclave for reversal map")
	}
	return s, nil
}

// Placeholders returns the sealed placeholders in sorted order.
func (s *SealedMap) Placeholders() []string {
	return slices.Clone(s.placeholders)
}

// Reserved returns the placeholders as a map with empty originals, for
// use as a reserved scope in NewCall.
func (s *SealedMap) Reserved() ReversalMap {
	m := make(ReversalMap, len(s.placeholders))
	for _, p := range s.placeholders {
		m[p] = ""
	}
	return m
}

// Len returns the number of sealed placeholders.
func (s *SealedMap) Len() int { return len(s.placeholders) }

// Reverse restores the sealed originals in text. Placeholders that are not
// in the map are left as they are.
func (s *SealedMap) Reverse(text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return "", ErrSealedMapDestroyed
	}
	if s.enclave == nil {
		return text, nil
	}

	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open reversal map enclave: %w", err)
	}
	defer buf.Destroy()

	var m ReversalMap
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		return "", fmt.Errorf("failed to decode reversal map: %w", err)
	}
	out := Reverse(text, m)
	clear(m)
	return out, nil
}

// Destroy drops the enclave. It is safe to call more than once.
func (s *SealedMap) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
	s.destroyed = true
}
