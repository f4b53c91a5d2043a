package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/crypto/nacl/secretbox"
)

// List returns all secret keys in etcd with the given prefix ("" for all).
// The returned keys are relative (prefix removed).
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	base := s.keyPrefix()
	resp, err := s.etcd.Get(ctx, base+prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, strings.TrimPrefix(string(kv.Key), base))
	}
	return keys, nil
}

// Set encrypts the provided value with the cluster key and stores it in etcd
// under the given key. Overwrites any existing value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], value, &nonce, &s.clusterK)
	_, err := s.etcd.Put(ctx, s.keyPrefix()+key, base64.StdEncoding.EncodeToString(sealed))
	return err
}

// Get retrieves and decrypts the value associated with the given key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.etcd.Get(ctx, s.keyPrefix()+key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	sealed, err := base64.StdEncoding.DecodeString(string(resp.Kvs[0].Value))
	if err != nil || len(sealed) < 24 {
		return nil, errors.New("invalid secret data")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.clusterK)
	if !ok {
		return nil, errors.New("decryption failed")
	}
	return plain, nil
}

// Delete removes the secret stored under the given key from etcd.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.etcd.Delete(ctx, s.keyPrefix()+key)
	return err
}
