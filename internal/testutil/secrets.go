package testutil

import (
	"testing"

	"github.com/chtzvt/csvjob/internal/secrets"
)

// SetupSecretsStore returns a secrets.Store backed by an embedded etcd with a
// random cluster key.
func SetupSecretsStore(t *testing.T) *secrets.Store {
	t.Helper()
	cli, prefix := SetupEtcd(t)
	key, _, err := secrets.GenerateClusterKey()
	if err != nil {
		t.Fatalf("generate cluster key: %v", err)
	}
	return secrets.NewStore(cli, prefix, key)
}
