//go:build integration

package objectstore_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/and161185/phv-register/internal/csvsource"
	"github.com/and161185/phv-register/internal/objectstore"
)

func startMongo(t *testing.T) *objectstore.Store {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start mongo container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)

	client, err := objectstore.Connect(ctx, fmt.Sprintf("mongodb://%s:%s", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return objectstore.New(client.Database("phv_register_test"))
}

func TestIntegration_PutStatOpenDelete(t *testing.T) {
	store := startMongo(t)
	ctx := context.Background()

	_, err := store.Stat(ctx, "uploads", "missing.csv")
	require.ErrorIs(t, err, objectstore.ErrObjectNotFound)

	body := "vrm,start,end,description,la,plate\nAB12CD,2024-01-01,2025-01-01,taxi,Leeds,P1\n"
	meta := map[string]string{csvsource.MetaUploaderID: "6f1b2a4e-8d5c-4c1a-9b7e-2f3d4c5b6a7e", csvsource.MetaEmail: "a@b.c"}
	require.NoError(t, store.Put(ctx, "uploads", "licences.csv", strings.NewReader(body), meta))

	obj, err := store.Stat(ctx, "uploads", "licences.csv")
	require.NoError(t, err)
	require.EqualValues(t, len(body), obj.Size)
	require.Equal(t, meta, obj.Metadata)

	rc, err := store.Open(ctx, "uploads", "licences.csv")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, body, string(got))

	rows, perrs, err := csvsource.NewReader(store).FindAll(ctx, "uploads", "licences.csv")
	require.NoError(t, err)
	require.Empty(t, perrs)
	require.Len(t, rows, 1)
	require.Equal(t, "AB12CD", rows[0].VRM)

	md, err := csvsource.NewMetadataExtractor(store).Extract(ctx, "uploads", "licences.csv")
	require.NoError(t, err)
	require.Equal(t, "a@b.c", md.Email)

	require.NoError(t, store.Delete(ctx, "uploads", "licences.csv"))
	_, err = store.Open(ctx, "uploads", "licences.csv")
	require.ErrorIs(t, err, objectstore.ErrObjectNotFound)
	require.NoError(t, store.Delete(ctx, "uploads", "licences.csv"))
}
