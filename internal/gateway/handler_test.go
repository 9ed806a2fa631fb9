package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"devicegw/internal/command"
	"devicegw/internal/device"
	"devicegw/internal/ingest"
	"devicegw/internal/metrics"
	"devicegw/internal/notify"
	"devicegw/internal/roster"
	"devicegw/internal/syncengine"
)

type testEnv struct {
	router *gin.Engine
	dev    device.Device
	queue  *command.Queue
	states *syncengine.MemoryStateStore
	logs   *ingest.MemoryLogStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	devStore := device.NewMemoryStore()
	registry := device.NewRegistry(devStore, 2*time.Minute, 10*time.Minute, zap.NewNop())
	d, err := registry.Register(ctx, "SN-1", "Gate A", "school-1")
	require.NoError(t, err)

	states := syncengine.NewMemoryStateStore()
	queue := command.NewQueue(command.NewMemoryStore(), states, 3, zap.NewNop())
	logs := ingest.NewMemoryLogStore()
	rosterStore := roster.NewMemoryStore()
	rosterStore.SetTiming(roster.Timing{SchoolID: "school-1", OpenTime: 8 * time.Hour, LateThreshold: 15 * time.Minute})
	pipeline := ingest.NewPipeline(logs, states, rosterStore, notify.NewInMemory(64), zap.NewNop())

	r := gin.New()
	NewHandler(registry, queue, pipeline, metrics.NewGateway(prometheus.NewRegistry()), zap.NewNop()).Register(r)

	return &testEnv{router: r, dev: d, queue: queue, states: states, logs: logs}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestPollUnknownSerialRejected(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(http.MethodGet, "/iclock/getrequest?SN=SN-404", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "ERROR: UNAUTH", w.Body.String())
}

func TestPollEmptyQueueReturnsSentinel(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(http.MethodGet, "/iclock/getrequest?SN=SN-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestPollDeliversQueuedCommands(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, _, err := e.queue.Enqueue(ctx, e.dev.ID, command.KindEnrollUser, command.Payload{
		StudentID: "S1", DeviceUserID: "1001", DisplayName: "Asha Rao",
	})
	require.NoError(t, err)

	w := e.do(http.MethodGet, "/iclock/getrequest?SN=SN-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "DATA UPDATE USERINFO PIN=1001")

	// SENT commands are not redelivered on the next poll
	w = e.do(http.MethodGet, "/iclock/getrequest?SN=SN-1", "")
	assert.Equal(t, "OK", w.Body.String())
}

func TestPushMalformedLineResilience(t *testing.T) {
	e := newTestEnv(t)
	for _, pin := range []string{"1001", "1002", "1003", "1004", "1005"} {
		e.states.Seed(syncengine.State{
			DeviceID: e.dev.ID, StudentID: "S" + pin, DeviceUserID: pin, Status: syncengine.StateSynced,
		})
	}

	body := strings.Join([]string{
		"1001\t2026-03-02 08:01:00\t0\t1",
		"1002\t2026-03-02 08:02:00\t0\t1",
		"THIS IS NOT A PUNCH",
		"1003\t2026-03-02 08:03:00\t0\t1",
		"1004\t2026-03-02 08:04:00\t0\t1",
		"1005\t2026-03-02 08:05:00\t0\t1",
	}, "\n")

	w := e.do(http.MethodPost, "/iclock/cdata?SN=SN-1", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK: 5", w.Body.String())
	assert.Len(t, e.logs.All(), 5, "five valid lines ingested, one skipped")
}

func TestPushThenAckRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, _, err := e.queue.Enqueue(ctx, e.dev.ID, command.KindEnrollUser, command.Payload{
		StudentID: "S1", DeviceUserID: "1001",
	})
	require.NoError(t, err)

	// terminal fetches the command
	w := e.do(http.MethodGet, "/iclock/getrequest?SN=SN-1", "")
	body := w.Body.String()
	require.Contains(t, body, "C:1:")

	// terminal reports execution
	w = e.do(http.MethodPost, "/iclock/devicecmd?SN=SN-1", "ID=1&Return=0&CMD=DATA")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	// enrollment settled: the PIN now resolves for ingestion
	student, err := e.states.ResolveDeviceUser(ctx, e.dev.ID, "1001")
	require.NoError(t, err)
	assert.Equal(t, "S1", student)
}

func TestPushRedeliveryIsNoOp(t *testing.T) {
	e := newTestEnv(t)
	e.states.Seed(syncengine.State{
		DeviceID: e.dev.ID, StudentID: "S1", DeviceUserID: "1001", Status: syncengine.StateSynced,
	})

	body := "1001\t2026-03-02 08:01:00\t0\t1"
	w := e.do(http.MethodPost, "/iclock/cdata?SN=SN-1", body)
	assert.Equal(t, "OK: 1", w.Body.String())

	w = e.do(http.MethodPost, "/iclock/cdata?SN=SN-1", body)
	assert.Equal(t, "OK: 1", w.Body.String(), "duplicate handled as success")
	assert.Len(t, e.logs.All(), 1)
}

func TestHeartbeatRecordedOnPush(t *testing.T) {
	e := newTestEnv(t)
	// even a garbage payload updates liveness
	w := e.do(http.MethodPost, "/iclock/cdata?SN=SN-1", "not\ta\tvalid\tpunch")
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, "/iclock/getrequest?SN=SN-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
