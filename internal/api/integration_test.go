//go:build integration

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saturnino-fabrica-de-software/chamada/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/chamada/internal/database"
	"github.com/saturnino-fabrica-de-software/chamada/internal/dedup"
	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
	"github.com/saturnino-fabrica-de-software/chamada/internal/embedding"
	"github.com/saturnino-fabrica-de-software/chamada/internal/enrollment"
	"github.com/saturnino-fabrica-de-software/chamada/internal/matcher"
	"github.com/saturnino-fabrica-de-software/chamada/internal/metrics"
	"github.com/saturnino-fabrica-de-software/chamada/internal/outbox"
	"github.com/saturnino-fabrica-de-software/chamada/internal/pipeline"
	"github.com/saturnino-fabrica-de-software/chamada/internal/repository"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	// Start PostgreSQL container with pgvector
	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "chamada_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Printf("Failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/chamada_test?sslmode=disable", host, port.Port())

	sqlDB, err := database.OpenSQL(ctx, dsn)
	if err == nil {
		err = database.MigrateUp(sqlDB, "chamada_test")
		_ = sqlDB.Close()
	}
	if err != nil {
		fmt.Printf("Failed to run migrations: %v\n", err)
		_ = container.Terminate(ctx)
		os.Exit(1)
	}

	testDB, err = database.NewPool(ctx, database.DefaultPoolConfig(dsn))
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		_ = container.Terminate(ctx)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	if err := container.Terminate(ctx); err != nil {
		fmt.Printf("Failed to terminate container: %v\n", err)
	}
	os.Exit(code)
}

// channelPublisher acknowledges every event and hands it to the test.
type channelPublisher struct {
	events chan outbox.Event
}

func (p *channelPublisher) Publish(_ context.Context, payload []byte) error {
	event, err := outbox.DecodeEvent(payload)
	if err != nil {
		return err
	}
	p.events <- event
	return nil
}

const testToken = "integration-token"

type stack struct {
	router    *Router
	queue     *outbox.Queue
	publisher *channelPublisher
}

func newStack(t *testing.T) *stack {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	identities := repository.NewIdentityRepository(testDB)
	outboxRepo := repository.NewOutboxRepository(testDB)

	store := enrollment.NewStore(identities, 3, logger)
	require.NoError(t, store.Load(ctx))

	match, err := matcher.New(store, matcher.Config{
		Metric:             embedding.Cosine,
		AcceptThreshold:    0.3,
		AmbiguousThreshold: 0.5,
		TieEpsilon:         1e-6,
	})
	require.NoError(t, err)

	publisher := &channelPublisher{events: make(chan outbox.Event, 16)}
	policy := outbox.DefaultPolicy()
	policy.BaseBackoff = 10 * time.Millisecond
	queue := outbox.New(outboxRepo, publisher, policy, logger, outbox.WithObserver(m))
	require.NoError(t, queue.Start(ctx))

	windows := dedup.New(time.Minute)
	coordinator := pipeline.NewCoordinator(match, windows, queue, pipeline.Config{DeviceID: "door-1"}, logger,
		pipeline.WithObserver(m))

	router := NewRouter(logger, &Dependencies{
		Store:       store,
		Windows:     windows,
		Frames:      coordinator,
		Queue:       queue,
		OutboxStats: outboxRepo,
		DB:          testDB,
		Metrics:     m.Handler(),
		AdminToken:  testToken,
	})
	router.Setup()
	t.Cleanup(func() { _ = router.Shutdown() })

	return &stack{router: router, queue: queue, publisher: publisher}
}

func (s *stack) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", testToken)

	resp, err := s.router.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestIntegration_HealthEndpoints(t *testing.T) {
	s := newStack(t)

	resp := s.do(t, "GET", "/health", nil)
	assert.Equal(t, 200, resp.StatusCode)

	resp = s.do(t, "GET", "/ready", nil)
	assert.Equal(t, 200, resp.StatusCode)

	var ready handler.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	assert.Equal(t, "up", ready.Database)
}

func TestIntegration_CheckInFlow(t *testing.T) {
	s := newStack(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.queue.Run(ctx) }()

	resp := s.do(t, "POST", "/v1/identities", handler.EnrollRequest{
		ID:         "flow-alice",
		Label:      "Alice",
		Embeddings: [][]float32{{3, 4, 0}, {0, 0, 1}},
	})
	require.Equal(t, 201, resp.StatusCode)

	resp = s.do(t, "POST", "/v1/identities", handler.EnrollRequest{
		ID:         "flow-alice",
		Embeddings: [][]float32{{1, 0, 0}},
	})
	assert.Equal(t, 409, resp.StatusCode)

	capturedAt := time.Now().UTC().Truncate(time.Millisecond)
	resp = s.do(t, "POST", "/v1/frames", handler.FrameRequest{Embedding: []float32{0.6, 0.8, 0.01}, CapturedAt: &capturedAt})
	require.Equal(t, 201, resp.StatusCode)

	var accepted domain.Outcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, domain.OutcomeAccepted, accepted.Kind)
	assert.Equal(t, "flow-alice", accepted.IdentityID)

	later := capturedAt.Add(10 * time.Second)
	resp = s.do(t, "POST", "/v1/frames", handler.FrameRequest{Embedding: []float32{0.6, 0.8, 0}, CapturedAt: &later})
	require.Equal(t, 200, resp.StatusCode)

	var suppressed domain.Outcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&suppressed))
	assert.Equal(t, domain.OutcomeSuppressed, suppressed.Kind)

	select {
	case event := <-s.publisher.events:
		assert.Equal(t, accepted.Seq, event.Seq)
		assert.Equal(t, accepted.RecordID, event.RecordID)
		assert.Equal(t, "door-1", event.DeviceID)
		assert.True(t, capturedAt.Equal(event.Timestamp))
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}

	require.Eventually(t, func() bool { return s.queue.Depth() == 0 }, 5*time.Second, 20*time.Millisecond)

	resp = s.do(t, "GET", "/v1/outbox/stats", nil)
	require.Equal(t, 200, resp.StatusCode)
	var stats handler.OutboxStatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.GreaterOrEqual(t, stats.ByStatus[domain.StatusDelivered], 1)

	resp = s.do(t, "DELETE", "/v1/identities/flow-alice", nil)
	assert.Equal(t, 204, resp.StatusCode)

	resp = s.do(t, "POST", "/v1/frames", handler.FrameRequest{Embedding: []float32{0.6, 0.8, 0}})
	require.Equal(t, 200, resp.StatusCode)
	var rejected domain.Outcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rejected))
	assert.Equal(t, domain.OutcomeRejected, rejected.Kind)

	resp = s.do(t, "GET", "/metrics", nil)
	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "chamada_outbox_delivered_total")
}

func TestIntegration_RequiresAdminToken(t *testing.T) {
	s := newStack(t)

	req := httptest.NewRequest("GET", "/v1/identities", nil)
	resp, err := s.router.App().Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, 401, resp.StatusCode)
}

func TestIntegration_NotFoundReturns404(t *testing.T) {
	s := newStack(t)

	resp := s.do(t, "GET", "/nonexistent", nil)
	assert.Equal(t, 404, resp.StatusCode)
}
