package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const azuriteConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
	"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

func TestNewBlobStore(t *testing.T) {
	tests := []struct {
		name             string
		connectionString string
		containerName    string
		wantErr          bool
		errContains      string
	}{
		{
			name:             "empty connection string",
			connectionString: "",
			containerName:    "checkpoints",
			wantErr:          true,
			errContains:      "connection string is required",
		},
		{
			name:             "empty container name",
			connectionString: azuriteConnectionString,
			containerName:    "",
			wantErr:          true,
			errContains:      "container name is required",
		},
		{
			name:             "missing account key",
			connectionString: "AccountName=test",
			containerName:    "checkpoints",
			wantErr:          true,
			errContains:      "account name and key are required",
		},
		{
			name:             "azurite",
			connectionString: azuriteConnectionString,
			containerName:    "checkpoints",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewBlobStore(tt.connectionString, tt.containerName, "courier", zap.NewNop())
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, store)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "courier/input.acme.json", store.blobName("input.acme"))
		})
	}
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString("AccountName=a; AccountKey=k==;;BlobEndpoint=http://h:1/a")
	assert.Equal(t, "a", params["AccountName"])
	assert.Equal(t, "k==", params["AccountKey"])
	assert.Equal(t, "http://h:1/a", params["BlobEndpoint"])
}

func TestBlobStoreRoundTrip(t *testing.T) {
	store, err := NewBlobStore(azuriteConnectionString, "courier-test", "", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Update(ctx, "roundtrip", map[string]any{"k": "v"}); err != nil {
		t.Skip("Azure Blob Storage not available - skipping round trip test")
	}

	content, found, err := store.Get(ctx, "roundtrip")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"k": "v"}, content)
	require.NoError(t, store.Delete(ctx, "roundtrip"))
}
