// Package openai provides sentiment and intent classification backed by an
// OpenAI-compatible chat completion endpoint.
package openai

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"ai-call-assist-service/internal/service/classify"
)

const sentimentPrompt = `You score customer sentiment on live sales calls.
The user message is the recent call transcript, oldest line first. Score the mood of the LAST line
in context, from 0 (very negative) to 1 (very positive). Reply with the number only.`

const intentPrompt = `You classify customer intent on live sales calls.
The user message is the recent call transcript, oldest line first. Classify the LAST line.
Reply with exactly one label from this list, or "unknown" if none fits:
%s`

// DefaultLabels is the intent vocabulary offered to the model.
var DefaultLabels = []string{
	"greeting",
	"product_interest",
	"price_objection",
	"trust_objection",
	"timing_objection",
	"competitor_objection",
	"buy_signal",
	"small_talk",
}

// Config holds the connection settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Labels  []string
}

// Classifier implements classify.SentimentAnalyzer and classify.IntentClassifier.
type Classifier struct {
	client oai.Client
	model  string
	labels []string
}

// New creates a classifier. Retries are disabled: the pipeline's per-call
// deadline is the only retry budget.
func New(cfg Config) (*Classifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}
	labels := cfg.Labels
	if len(labels) == 0 {
		labels = DefaultLabels
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Classifier{
		client: oai.NewClient(opts...),
		model:  cfg.Model,
		labels: labels,
	}, nil
}

// AnalyzeSentiment asks the model for a score in [0,1].
func (c *Classifier) AnalyzeSentiment(ctx context.Context, transcript string) (float64, error) {
	reply, err := c.complete(ctx, sentimentPrompt, transcript)
	if err != nil {
		return 0, err
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		return 0, fmt.Errorf("openai: unparseable sentiment %q: %w", reply, err)
	}
	if score < 0 || score > 1 {
		return 0, fmt.Errorf("openai: sentiment %v out of range", score)
	}
	return score, nil
}

// ClassifyIntent asks the model for one label. Labels outside the vocabulary
// and "unknown" are reported as no intent.
func (c *Classifier) ClassifyIntent(ctx context.Context, transcript string) (string, error) {
	reply, err := c.complete(ctx, fmt.Sprintf(intentPrompt, strings.Join(c.labels, "\n")), transcript)
	if err != nil {
		return "", err
	}
	label := strings.ToLower(strings.Trim(strings.TrimSpace(reply), `."'`))
	for _, l := range c.labels {
		if l == label {
			return label, nil
		}
	}
	return "", nil
}

func (c *Classifier) complete(ctx context.Context, system, transcript string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(transcript),
		},
		Temperature:         param.NewOpt(0.0),
		MaxCompletionTokens: param.NewOpt(int64(8)),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

var (
	_ classify.SentimentAnalyzer = (*Classifier)(nil)
	_ classify.IntentClassifier  = (*Classifier)(nil)
)
