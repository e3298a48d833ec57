package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-pixel-ai-api/internal/domain/service"
)

func TestWebhookNotifier_Notify(t *testing.T) {
	var payload webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	err := notifier.Notify(context.Background(), service.BudgetAlert{
		UserID: "user-1",
		Tier:   "free",
		Period: "daily",
		Used:   0.09,
		Limit:  0.10,
		Ratio:  0.9,
	})
	require.NoError(t, err)

	assert.Equal(t, "budget_alert", payload.Event)
	assert.Equal(t, "user-1", payload.Alert.UserID)
	assert.Equal(t, "daily", payload.Alert.Period)
}

func TestWebhookNotifier_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	err := notifier.Notify(context.Background(), service.BudgetAlert{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
