package mongo

import (
	"context"
	"strings"
	"testing"

	"fresh_chat_server/internal/config"
	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/dao/backend/backendtest"
)

func runConformance(t *testing.T, uri string) {
	backendtest.Run(t, func(t *testing.T) backend.SyncBackend {
		ctx := context.Background()
		client, err := Connect(ctx, config.MongoConfig{URI: uri})
		if err != nil {
			t.Fatal(err)
		}
		database := "fresh_test_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
		_ = client.Database(database).Drop(ctx)
		b, err := NewBackend(ctx, client, database)
		if err != nil {
			t.Fatal(err)
		}
		return b
	})
}
