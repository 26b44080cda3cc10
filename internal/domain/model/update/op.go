// Package update describes the metadata changes carried by a distributed transaction.
package update

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind is the kind of change an Op makes
type Kind string

const (
	KindPut    Kind = "put"
	KindDelete Kind = "delete"
)

// String returns the string representation
func (k Kind) String() string {
	return string(k)
}

// IsValid validates the kind
func (k Kind) IsValid() bool {
	switch k {
	case KindPut, KindDelete:
		return true
	default:
		return false
	}
}

// Op is one change to one metadata entry on one device.
type Op struct {
	Kind  Kind   `yaml:"kind" json:"kind"`
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value,omitempty" json:"value,omitempty"`
}

// Put returns a put op
func Put(key, value string) Op {
	return Op{Kind: KindPut, Key: key, Value: value}
}

// Delete returns a delete op
func Delete(key string) Op {
	return Op{Kind: KindDelete, Key: key}
}

// ErrInvalidKey is returned for keys that cannot name an entry
var ErrInvalidKey = errors.New("invalid key")

// NormalizeKey NFC-normalizes key and checks that it is a clean relative slash path.
func NormalizeKey(key string) (string, error) {
	key = norm.NFC.String(strings.TrimSpace(key))
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.Contains(key, "\\") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if path.Clean(key) != key {
		return "", fmt.Errorf("%w: %q is not clean", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || strings.HasPrefix(part, ".") {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return key, nil
}

// Normalize returns a copy of op with its key normalized, or an error when the op is
// malformed.
func (op Op) Normalize() (Op, error) {
	if !op.Kind.IsValid() {
		return Op{}, fmt.Errorf("invalid op kind %q", op.Kind)
	}
	key, err := NormalizeKey(op.Key)
	if err != nil {
		return Op{}, err
	}
	op.Key = key
	if op.Kind == KindDelete {
		op.Value = ""
	}
	return op, nil
}
