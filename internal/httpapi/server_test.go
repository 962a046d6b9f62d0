package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hyperion-taskctl/internal/auth"
	"hyperion-taskctl/internal/eventbus"
	"hyperion-taskctl/internal/notification"
)

// setupWSTestServer mirrors the teacher's chat websocket test harness: a bare
// gin router with a mock auth-binding middleware in place of the real JWT
// check, wired straight to wsHandler.
func setupWSTestServer(t *testing.T, userID string, notifier *notification.Service) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	router.Use(func(c *gin.Context) {
		ctx := auth.WithAuthInfo(c.Request.Context(), auth.AuthInfo{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
		c.Set("authInfo", auth.AuthInfo{UserID: userID})
		c.Next()
	})
	router.GET("/ws", wsHandler(zap.NewNop(), notifier))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func dialWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWSHandlerDeliversLiveNotification(t *testing.T) {
	bus := eventbus.New(zap.NewNop(), eventbus.Config{})
	t.Cleanup(func() { _ = bus.Stop() })
	notifier := notification.New(bus, zap.NewNop())

	server := setupWSTestServer(t, "user-1", notifier)
	conn := dialWS(t, server.URL)

	// give Subscribe a moment to register before the fan-out below.
	time.Sleep(50 * time.Millisecond)

	_, err := notifier.Notify("TaskCreated", map[string]string{"task_id": "t1"}, 0, "user-1", nil)
	require.NoError(t, err)

	var received notification.Notification
	require.NoError(t, conn.ReadJSON(&received))
	assert.Equal(t, "TaskCreated", received.Type)
}

func TestWSHandlerReplaysHistorySinceConnect(t *testing.T) {
	bus := eventbus.New(zap.NewNop(), eventbus.Config{})
	t.Cleanup(func() { _ = bus.Stop() })
	notifier := notification.New(bus, zap.NewNop())

	_, err := notifier.Notify("Earlier", nil, 0, "user-2", nil)
	require.NoError(t, err)

	server := setupWSTestServer(t, "user-2", notifier)
	conn := dialWS(t, server.URL)

	var replayed notification.Notification
	require.NoError(t, conn.ReadJSON(&replayed))
	assert.Equal(t, "Earlier", replayed.Type)
}

func TestWSHandlerRejectsUnauthenticated(t *testing.T) {
	bus := eventbus.New(zap.NewNop(), eventbus.Config{})
	t.Cleanup(func() { _ = bus.Stop() })
	notifier := notification.New(bus, zap.NewNop())

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", wsHandler(zap.NewNop(), notifier))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 401, resp.StatusCode)
	}
}
