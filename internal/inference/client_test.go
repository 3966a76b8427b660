package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-extractor/config"
	"github.com/feichai0017/document-extractor/internal/normalizer"
	"github.com/feichai0017/document-extractor/pkg/logger"
)

func testConfig(baseURL string) config.InferenceConfig {
	return config.InferenceConfig{
		BaseURL:         baseURL,
		APIKey:          "test-key",
		Model:           "qwen-vl-max-latest",
		MaxTokens:       8192,
		Temperature:     0.3,
		Timeout:         5 * time.Second,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	}
}

func singleImage() *normalizer.Payload {
	return &normalizer.Payload{Images: []normalizer.Image{{MIMEType: "image/jpeg", Data: "AAAA"}}}
}

type capturedRequest struct {
	Model          string  `json:"model"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float32 `json:"temperature"`
	Stream         bool    `json:"stream"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

func TestAnalyzeSendsTemplateAndImage(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"contractNo\":\"HT-1\"}"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL+"/v1"), logger.NewTestLogger())
	text, err := c.Analyze(context.Background(), `{"contractNo": "合同编号"}`, singleImage())
	require.NoError(t, err)
	assert.Equal(t, `{"contractNo":"HT-1"}`, text)

	var req capturedRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "qwen-vl-max-latest", req.Model)
	assert.Equal(t, 8192, req.MaxTokens)
	assert.InDelta(t, 0.3, req.Temperature, 0.0001)
	assert.Equal(t, "json_object", req.ResponseFormat.Type)
	assert.False(t, req.Stream)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	var system string
	require.NoError(t, json.Unmarshal(req.Messages[0].Content, &system))
	assert.Contains(t, system, "合同编号")

	// 用户消息是 text + image_url 多段内容
	var parts []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL *struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}
	require.NoError(t, json.Unmarshal(req.Messages[1].Content, &parts))
	require.Len(t, parts, 2)
	assert.Equal(t, singleImageInstruction, parts[0].Text)
	assert.Equal(t, "image_url", parts[1].Type)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", parts[1].ImageURL.URL)
}

func TestAnalyzeSequenceSendsEveryPage(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"{}"}}]}`)
	}))
	defer srv.Close()

	payload := &normalizer.Payload{Sequence: true}
	for i := 0; i < 5; i++ {
		payload.Images = append(payload.Images, normalizer.Image{MIMEType: "image/jpeg", Data: fmt.Sprintf("PAGE%d", i)})
	}

	c := NewClient(testConfig(srv.URL+"/v1"), logger.NewTestLogger())
	_, err := c.Analyze(context.Background(), `{}`, payload)
	require.NoError(t, err)

	assert.Contains(t, body, sequenceInstruction)
	last := -1
	for i := 0; i < 5; i++ {
		idx := strings.Index(body, fmt.Sprintf("PAGE%d", i))
		require.GreaterOrEqual(t, idx, 0)
		assert.Greater(t, idx, last, "pages keep their order")
		last = idx
	}
}

func TestAnalyzeStreamDeliversDeltasInOrder(t *testing.T) {
	chunks := []string{`{\"a\":`, `\"hello\"`, `}`}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"%s\"}}]}\n\n", c)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL+"/v1"), logger.NewTestLogger())

	var got []string
	err := c.AnalyzeStream(context.Background(), `{"a": "A"}`, singleImage(), func(delta string) error {
		got = append(got, delta)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":`, `"hello"`, `}`}, got)
	assert.Equal(t, `{"a":"hello"}`, strings.Join(got, ""))
}

func TestAnalyzeReturnsEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"image too large","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL+"/v1"), logger.NewTestLogger())
	_, err := c.Analyze(context.Background(), `{}`, singleImage())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "image too large")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	log := logger.NewTestLogger()
	c := NewClient(testConfig(srv.URL+"/v1"), log)

	for i := 0; i < 2; i++ {
		_, err := c.Analyze(context.Background(), `{}`, singleImage())
		require.Error(t, err)
		assert.False(t, IsCircuitOpen(err))
	}

	_, err := c.Analyze(context.Background(), `{}`, singleImage())
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, int32(2), hits.Load(), "no request while the breaker is open")
	assert.True(t, log.HasMessage("WARN", "circuit breaker state changed"))
}

func TestSystemPromptEmbedsTemplate(t *testing.T) {
	prompt := SystemPrompt(`{"driverName": "司机姓名"}`)
	assert.True(t, strings.HasPrefix(prompt, "你是一个专业的文档分析助手"))
	assert.Contains(t, prompt, `{"driverName": "司机姓名"}`)
}
