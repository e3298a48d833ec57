package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-pixel-ai-api/internal/domain/entity"
	"z-pixel-ai-api/internal/domain/service"
)

// fakeClock 模拟时钟：每次 after 直接推进模拟时间并立即触发
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) after(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.t = c.t.Add(d)
	at := c.t
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- at
	return ch
}

func newTestClient(baseURL string, clock *fakeClock) *Client {
	return &Client{
		baseURL:      baseURL,
		apiKey:       "test-key",
		imageModel:   "image-model",
		videoModel:   "video-model",
		imageTimeout: 5 * time.Minute,
		videoTimeout: 15 * time.Minute,
		pollInterval: 10 * time.Second,
		videoCount:   1,
		httpClient:   &http.Client{},
		now:          clock.now,
		after:        clock.after,
	}
}

func imageInput() service.ImageEditInput {
	return service.ImageEditInput{
		Primary:   entity.ImageData{MimeType: "image/png", Data: []byte("primary")},
		Mask:      &entity.ImageData{MimeType: "image/png", Data: []byte("mask")},
		Secondary: &entity.ImageData{MimeType: "image/jpeg", Data: []byte("secondary")},
		Prompt:    "replace the sky",
	}
}

func imageSuccessBody(text string, imageData []byte) string {
	body := map[string]interface{}{
		"candidates": []map[string]interface{}{{
			"content": map[string]interface{}{
				"parts": []map[string]interface{}{
					{"text": text},
					{"inlineData": map[string]string{
						"mimeType": "image/png",
						"data":     base64.StdEncoding.EncodeToString(imageData),
					}},
				},
			},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]int{"totalTokenCount": 77},
	}
	raw, _ := json.Marshal(body)
	return string(raw)
}

func TestEditImage_PayloadOrderAndMaskRewrite(t *testing.T) {
	var captured generateContentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/image-model:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, imageSuccessBody("sky replaced", []byte("result-image")))
	}))
	defer server.Close()

	client := newTestClient(server.URL, newFakeClock())
	result, err := client.EditImage(context.Background(), imageInput())
	require.NoError(t, err)

	require.Len(t, captured.Contents, 1)
	parts := captured.Contents[0].Parts
	require.Len(t, parts, 4)
	assert.Equal(t, "image/png", parts[0].InlineData.MimeType)
	assert.Equal(t, "image/png", parts[1].InlineData.MimeType)
	assert.Equal(t, "image/jpeg", parts[2].InlineData.MimeType)
	assert.True(t, strings.HasPrefix(parts[3].Text, maskPromptPrefix))
	assert.True(t, strings.HasSuffix(parts[3].Text, "replace the sky"))

	assert.True(t, strings.HasPrefix(result.ImageURL, "data:image/png;base64,"))
	assert.Equal(t, "sky replaced", result.Text)
	assert.Equal(t, 77, result.TokensUsed)
}

func TestEditImage_NoMaskKeepsPromptVerbatim(t *testing.T) {
	var captured generateContentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, imageSuccessBody("", []byte("img")))
	}))
	defer server.Close()

	in := imageInput()
	in.Mask = nil
	in.Secondary = nil

	client := newTestClient(server.URL, newFakeClock())
	_, err := client.EditImage(context.Background(), in)
	require.NoError(t, err)

	parts := captured.Contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "replace the sky", parts[1].Text)
}

func TestEditImage_SafetyBlockListsCategories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"finishReason":"SAFETY","safetyRatings":[
			{"category":"HARM_CATEGORY_VIOLENCE","blocked":true},
			{"category":"HARM_CATEGORY_HATE","blocked":false}]}]}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, newFakeClock())
	_, err := client.EditImage(context.Background(), imageInput())

	var extErr *service.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, []string{"HARM_CATEGORY_VIOLENCE"}, extErr.SafetyCategories)
	assert.Contains(t, err.Error(), "HARM_CATEGORY_VIOLENCE")
}

func TestEditImage_TextOnlyResponseBecomesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"I cannot edit this"}]},"finishReason":"STOP"}]}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, newFakeClock())
	_, err := client.EditImage(context.Background(), imageInput())

	var extErr *service.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Contains(t, extErr.Message, "I cannot edit this")
}

func TestParseAPIError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		want       string
		unknown    bool
	}{
		{
			name:       "resource exhausted",
			statusCode: 429,
			body:       `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"quota"}}`,
			want:       "quota exhausted",
		},
		{
			name:       "internal",
			statusCode: 500,
			body:       `{"error":{"code":500,"status":"INTERNAL","message":"boom"}}`,
			want:       "internal error",
		},
		{
			name:       "unrecognized envelope passes message through",
			statusCode: 400,
			body:       `{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"bad aspect ratio"}}`,
			want:       "bad aspect ratio",
		},
		{
			name:       "unparseable body",
			statusCode: 502,
			body:       `<html>bad gateway</html>`,
			want:       "bad gateway",
			unknown:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseAPIError(tt.statusCode, []byte(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			if tt.unknown {
				var unkErr *service.UnknownError
				assert.ErrorAs(t, err, &unkErr)
			} else {
				var extErr *service.ExternalServiceError
				assert.ErrorAs(t, err, &extErr)
			}
		})
	}
}

func videoServer(t *testing.T, doneAfter int, polls *int) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":predictLongRunning"):
			fmt.Fprint(w, `{"name":"operations/op-1"}`)
		case strings.Contains(r.URL.Path, "operations/op-1"):
			*polls++
			if doneAfter > 0 && *polls >= doneAfter {
				fmt.Fprintf(w, `{"name":"operations/op-1","done":true,"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"%s/files/video-1"}}]}}}`, server.URL)
				return
			}
			fmt.Fprint(w, `{"name":"operations/op-1","done":false}`)
		case strings.Contains(r.URL.Path, "files/video-1"):
			w.Write([]byte("video-bytes"))
		default:
			t.Fatalf("unexpected request: %s", r.URL.Path)
		}
	}))
	return server
}

func TestGenerateVideo_PollsUntilDone(t *testing.T) {
	polls := 0
	server := videoServer(t, 3, &polls)
	defer server.Close()

	clock := newFakeClock()
	client := newTestClient(server.URL, clock)

	var messages []string
	handle, err := client.GenerateVideo(context.Background(), service.VideoInput{
		Prompt:      "make it move",
		Reference:   &entity.ImageData{MimeType: "image/png", Data: []byte("ref")},
		AspectRatio: "16:9",
	}, func(msg string) { messages = append(messages, msg) })
	require.NoError(t, err)
	defer handle.Release()

	assert.Equal(t, 3, polls)

	data, err := os.ReadFile(handle.Path)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	require.NotEmpty(t, messages)
	assert.Equal(t, "video task submitted", messages[0])
	assert.Equal(t, "downloading video", messages[len(messages)-1])

	require.NoError(t, handle.Release())
	_, statErr := os.Stat(handle.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestGenerateVideo_TimeoutStopsPolling(t *testing.T) {
	polls := 0
	server := videoServer(t, 0, &polls)
	defer server.Close()

	clock := newFakeClock()
	client := newTestClient(server.URL, clock)

	_, err := client.GenerateVideo(context.Background(), service.VideoInput{Prompt: "never done"}, nil)

	var toErr *service.TimeoutError
	require.ErrorAs(t, err, &toErr)
	assert.Equal(t, "video", toErr.Stage)
	assert.GreaterOrEqual(t, toErr.Elapsed, 15*time.Minute)

	// 超时判定先于状态查询，最后一轮不再访问提供商
	pollsAtTimeout := polls
	assert.Less(t, pollsAtTimeout, 90)
}

func TestGenerateVideo_OperationErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ":predictLongRunning") {
			fmt.Fprint(w, `{"name":"operations/op-2"}`)
			return
		}
		fmt.Fprint(w, `{"name":"operations/op-2","done":true,"error":{"code":400,"status":"INVALID_ARGUMENT","message":"unsupported aspect ratio"}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, newFakeClock())
	_, err := client.GenerateVideo(context.Background(), service.VideoInput{Prompt: "p"}, nil)

	var extErr *service.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Contains(t, extErr.Message, "unsupported aspect ratio")
}
