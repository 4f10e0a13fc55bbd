//go:build integration

package keystore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testFirestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	testFirestoreEmulatorPort  = "8080/tcp"
	testFirestoreProjectID     = "test-keystore-project"

	testNATSImage = "nats:2.10-alpine"
	testNATSPort  = "4222/tcp"
)

// setupFirestoreEmulator starts a Firestore emulator and points the client library at it.
func setupFirestoreEmulator(t *testing.T, ctx context.Context) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        testFirestoreEmulatorImage,
		ExposedPorts: []string{testFirestoreEmulatorPort},
		Cmd:          []string{"gcloud", "beta", "emulators", "firestore", "start", fmt.Sprintf("--project=%s", testFirestoreProjectID), fmt.Sprintf("--host-port=0.0.0.0:%s", strings.Split(testFirestoreEmulatorPort, "/")[0])},
		WaitingFor:   wait.ForLog("Dev App Server is now running").WithStartupTimeout(90 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err, "Failed to start Firestore emulator")
	t.Cleanup(func() { require.NoError(t, container.Terminate(context.Background())) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, testFirestoreEmulatorPort)
	require.NoError(t, err)
	emulatorHost := fmt.Sprintf("%s:%s", host, port.Port())
	t.Logf("Firestore emulator started, host: %s", emulatorHost)
	t.Setenv("FIRESTORE_EMULATOR_HOST", emulatorHost)
}

// setupNATS starts a JetStream-enabled NATS server and returns its url.
func setupNATS(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        testNATSImage,
		ExposedPorts: []string{testNATSPort},
		Cmd:          []string{"-js"},
		WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err, "Failed to start NATS container")
	t.Cleanup(func() { require.NoError(t, container.Terminate(context.Background())) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, testNATSPort)
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestFirestore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	setupFirestoreEmulator(t, ctx)

	store, err := NewFirestore(ctx, FirestoreConfig{
		ProjectID:      testFirestoreProjectID,
		CollectionName: "dedup-keys-test",
	}, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	runContract(t, store)
}

func TestNATSKV_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	url := setupNATS(t, ctx)

	store, err := NewNATSKV(ctx, NATSKVConfig{URL: url, Bucket: "dedup_keys_test"}, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	runContract(t, store)
}
