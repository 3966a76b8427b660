// Package inference 调用 OpenAI 兼容的多模态接口（默认通义千问 VL）。
package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"

	"github.com/feichai0017/document-extractor/config"
	"github.com/feichai0017/document-extractor/internal/normalizer"
	"github.com/feichai0017/document-extractor/pkg/logger"
)

// ErrEmptyResponse 接口返回中没有任何候选结果
var ErrEmptyResponse = errors.New("inference endpoint returned no choices")

// Client 多模态推理客户端，失败不重试，连续失败后熔断
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	breaker     *gobreaker.CircuitBreaker[string]
	logger      logger.Logger
}

func NewClient(cfg config.InferenceConfig, log logger.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	failures := uint32(5)
	if cfg.BreakerFailures > 0 {
		failures = uint32(cfg.BreakerFailures)
	}

	c := &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      log,
	}
	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "inference",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// 调用方取消不算接口故障
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return c
}

// Analyze 非流式调用，返回模型输出的完整文本
func (c *Client) Analyze(ctx context.Context, templateRaw string, payload *normalizer.Payload) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	text, err := c.breaker.Execute(func() (string, error) {
		resp, err := c.api.CreateChatCompletion(ctx, c.request(templateRaw, payload, false))
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyResponse
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", fmt.Errorf("inference request failed: %w", err)
	}
	return text, nil
}

// AnalyzeStream 流式调用，每收到一段文本调用一次 onDelta，顺序与接收顺序一致
func (c *Client) AnalyzeStream(ctx context.Context, templateRaw string, payload *normalizer.Payload, onDelta func(string) error) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.breaker.Execute(func() (string, error) {
		stream, err := c.api.CreateChatCompletionStream(ctx, c.request(templateRaw, payload, true))
		if err != nil {
			return "", err
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return "", nil
			}
			if err != nil {
				return "", err
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if err := onDelta(choice.Delta.Content); err != nil {
					return "", err
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("inference stream failed: %w", err)
	}
	return nil
}

func (c *Client) request(templateRaw string, payload *normalizer.Payload, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildMessages(templateRaw, payload),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      stream,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// IsCircuitOpen 熔断器打开时直接拒绝的错误
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
