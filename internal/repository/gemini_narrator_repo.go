package repository

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"confluence-backtest/config"
	"confluence-backtest/internal/contract"
	"confluence-backtest/internal/dto"
	"confluence-backtest/pkg/httpclient"
	"confluence-backtest/pkg/logger"
	"confluence-backtest/pkg/ratelimit"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// geminiNarratorRepository explains a finalized trade signal through the
// Google Gemini API. It implements contract.SignalNarrator and is only ever
// invoked asynchronously after a signal is emitted.
type geminiNarratorRepository struct {
	cfg            *config.Config
	logger         *logger.Logger
	httpClient     httpclient.HTTPClient
	tokenLimiter   *ratelimit.TokenLimiter
	requestLimiter *rate.Limiter
	genAiClient    *genai.Client
}

func NewGeminiNarratorRepository(cfg *config.Config, log *logger.Logger) (contract.SignalNarrator, error) {
	secondsPerRequest := time.Minute / time.Duration(cfg.Gemini.MaxRequestPerMinute)
	requestLimiter := rate.NewLimiter(rate.Every(secondsPerRequest), 1)

	tokenLimiter := ratelimit.NewTokenLimiter(cfg.Gemini.MaxTokenPerMinute)
	genAiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.Gemini.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &geminiNarratorRepository{
		cfg:            cfg,
		logger:         log,
		httpClient:     httpclient.New(cfg.Gemini.BaseURL, cfg.Gemini.Timeout, ""),
		tokenLimiter:   tokenLimiter,
		requestLimiter: requestLimiter,
		genAiClient:    genAiClient,
	}, nil
}

func (r *geminiNarratorRepository) Narrate(ctx context.Context, signal *dto.TradeSignal) (string, error) {
	if signal == nil {
		return "", fmt.Errorf("no signal to narrate")
	}

	prompt := r.buildPrompt(signal)

	response, err := r.sendRequest(ctx, prompt)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to send request to gemini", logger.ErrorField(err))
		return "", fmt.Errorf("failed to send request to gemini: %w", err)
	}

	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("invalid response from Gemini API: no content found")
	}

	return strings.TrimSpace(response.Candidates[0].Content.Parts[0].Text), nil
}

func (r *geminiNarratorRepository) buildPrompt(signal *dto.TradeSignal) string {
	var sb strings.Builder
	sb.WriteString("You are a trading assistant. Explain in 3-5 plain sentences why the following ")
	sb.WriteString("signal fired, referencing its strongest and weakest confluence factors.\n\n")
	sb.WriteString(fmt.Sprintf("Asset: %s\nDirection: %s\nEntry timeframe: %s\n", signal.Asset, signal.Direction, signal.EntryTimeframe))
	sb.WriteString(fmt.Sprintf("Confluence score: %.2f\nEntry: %.4f\nStop: %.4f\nRisk/reward: %.2f\n", signal.ConfluenceScore, signal.EntryPrice, signal.StopPrice, signal.RiskReward))
	sb.WriteString(fmt.Sprintf("Matched rules: %s\n", strings.Join(signal.MatchedRuleIDs, ", ")))
	sb.WriteString("Factors:\n")
	for name, value := range signal.Factors {
		sb.WriteString(fmt.Sprintf("- %s: %.2f\n", name, value))
	}
	return sb.String()
}

func (r *geminiNarratorRepository) sendRequest(ctx context.Context, prompt string) (*dto.GeminiAPIResponse, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, "user"),
	}
	geminiTokenResp, err := r.genAiClient.Models.CountTokens(ctx, r.cfg.Gemini.BaseModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count tokens: %w", err)
	}

	r.logger.Debug("Gemini token count",
		logger.IntField("total_tokens", int(geminiTokenResp.TotalTokens)),
		logger.IntField("remaining", r.tokenLimiter.GetRemaining()),
	)
	if err := r.tokenLimiter.Wait(ctx, int(geminiTokenResp.TotalTokens)); err != nil {
		return nil, fmt.Errorf("failed to wait for token gemini limit: %w", err)
	}

	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for request gemini limit: %w", err)
	}

	payload := dto.GeminiAPIRequest{
		Contents: []dto.Content{{Parts: []dto.Part{{Text: prompt}}}},
	}

	geminiAPIResponse := dto.GeminiAPIResponse{}

	apiURL := fmt.Sprintf("/%s:generateContent?key=%s", r.cfg.Gemini.BaseModel, r.cfg.Gemini.APIKey)

	geminiResp, err := r.httpClient.Post(ctx, apiURL, payload, nil, &geminiAPIResponse)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to gemini: %w", err)
	}

	if geminiResp.StatusCode != http.StatusOK {
		r.logger.ErrorContext(ctx, "failed to get data from gemini", logger.IntField("status_code", geminiResp.StatusCode))
		return nil, fmt.Errorf("failed to get data: %v", string(geminiResp.Body))
	}

	return &geminiAPIResponse, nil
}
