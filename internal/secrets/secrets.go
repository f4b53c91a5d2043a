// Package secrets implements an encrypted credential store on top of etcd.
// Values are sealed with NaCl secretbox under a 32-byte cluster key that is
// supplied through configuration and never written to etcd.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

var ErrNotFound = errors.New("secret not found")

// Store reads and writes sealed secrets under <prefix>/secrets/store/.
type Store struct {
	etcd     *clientv3.Client
	prefix   string
	clusterK [32]byte
}

// NewStore initializes a Store using the provided etcd client, key prefix and
// cluster key.
func NewStore(etcd *clientv3.Client, prefix string, clusterKey [32]byte) *Store {
	return &Store{
		etcd:     etcd,
		prefix:   prefix,
		clusterK: clusterKey,
	}
}

// ParseClusterKey decodes a base64 encoded 32-byte cluster key.
func ParseClusterKey(b64 string) ([32]byte, error) {
	var key [32]byte
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return key, fmt.Errorf("decode cluster key: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("cluster key must be %d bytes, got %d", len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// GenerateClusterKey returns a fresh random key and its base64 form.
func GenerateClusterKey() ([32]byte, string, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, "", err
	}
	return key, base64.StdEncoding.EncodeToString(key[:]), nil
}

func (s *Store) keyPrefix() string {
	return s.prefix + "/secrets/store/"
}
