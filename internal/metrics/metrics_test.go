package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStorageOperationsLabeledByBackend(t *testing.T) {
	StorageOperationsTotal.Reset()
	StorageOperationsTotal.WithLabelValues("serve", "local").Inc()
	StorageOperationsTotal.WithLabelValues("redirect", "s3").Inc()

	expected := `
# HELP streamvault_storage_operations_total Total number of storage operations
# TYPE streamvault_storage_operations_total counter
streamvault_storage_operations_total{backend="local",operation="serve"} 1
streamvault_storage_operations_total{backend="s3",operation="redirect"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(StorageOperationsTotal, strings.NewReader(expected)))
}
