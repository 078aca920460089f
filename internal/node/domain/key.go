package domain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
)

const (
	// MaxKeySize bounds namespace+key so a storage entry header stays small.
	MaxKeySize = 64 * 1024
	// MaxValueSize bounds a single value.
	MaxValueSize = 16 * 1024 * 1024
)

var (
	ErrEmptyKey      = errors.New("key must not be empty")
	ErrKeyTooLarge   = errors.New("key exceeds maximum size")
	ErrValueTooLarge = errors.New("value exceeds maximum size")
	ErrBadNamespace  = errors.New("namespace must not contain NUL")
)

// Key is an opaque byte key scoped to a namespace.
type Key struct {
	Namespace string `json:"namespace"`
	Key       []byte `json:"key"`
}

func NewKey(namespace string, key []byte) Key {
	return Key{Namespace: namespace, Key: key}
}

func (k Key) Validate() error {
	if len(k.Key) == 0 {
		return ErrEmptyKey
	}
	if bytes.IndexByte([]byte(k.Namespace), 0) >= 0 {
		return ErrBadNamespace
	}
	if len(k.Namespace)+1+len(k.Key) > MaxKeySize {
		return ErrKeyTooLarge
	}
	return nil
}

// Token returns the ring position of the key.
func (k Key) Token() uint64 {
	return shard.KeyToken(k.Namespace, k.Key)
}

// Encode returns namespace, NUL, key. The encoding sorts by namespace first.
func (k Key) Encode() []byte {
	out := make([]byte, 0, len(k.Namespace)+1+len(k.Key))
	out = append(out, k.Namespace...)
	out = append(out, 0)
	return append(out, k.Key...)
}

// DecodeKey reverses Encode.
func DecodeKey(b []byte) (Key, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return Key{}, fmt.Errorf("encoded key has no namespace separator")
	}
	return Key{Namespace: string(b[:i]), Key: append([]byte(nil), b[i+1:]...)}, nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%q", k.Namespace, k.Key)
}

func (k Key) Equal(o Key) bool {
	return k.Namespace == o.Namespace && bytes.Equal(k.Key, o.Key)
}
