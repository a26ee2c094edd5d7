package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/branchsight/branchsight-engine/pkg/config"
)

// AnalysisEvent is one incremental chunk of a streamed report analysis.
type AnalysisEvent struct {
	Type    AnalysisEventType `json:"type"`
	Content string            `json:"content,omitempty"`
}

// AnalysisEventType defines the kinds of streamed analysis events.
type AnalysisEventType string

const (
	AnalysisEventText  AnalysisEventType = "text"
	AnalysisEventDone  AnalysisEventType = "done"
	AnalysisEventError AnalysisEventType = "error"
)

// maxRowsForPrompt bounds how many result rows get serialized into the
// prompt; large result sets would blow the context window.
const maxRowsForPrompt = 50

const analysisSystemPrompt = `You are a business analyst for a restaurant chain.
You are given the result rows of a report query and asked to explain what the
numbers show. Be concrete: name the branches, periods, and figures involved.
Answer in the language of the user's question. Do not invent data that is not
in the rows.`

// AnalysisRequest carries everything the model needs to analyze one report.
type AnalysisRequest struct {
	ReportName string
	Question   string
	Rows       []map[string]any
}

// AnalysisService streams an LLM analysis of report results. Each call
// returns a channel that is closed exactly once, after the final done or
// error event, so SSE handlers can range over it safely.
type AnalysisService interface {
	AnalyzeReport(ctx context.Context, req AnalysisRequest) (<-chan AnalysisEvent, error)
	Available() bool
}

type analysisService struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewAnalysisService creates the analysis service. When the AI config is
// incomplete the service still constructs but reports unavailable, so the
// rest of the engine runs without an LLM endpoint.
func NewAnalysisService(cfg *config.AIConfig, logger *zap.Logger) AnalysisService {
	svc := &analysisService{
		model:  cfg.Model,
		logger: logger.Named("analysis"),
	}
	if cfg.IsAvailable() {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		svc.client = openai.NewClientWithConfig(clientConfig)
	}
	return svc
}

func (s *analysisService) Available() bool {
	return s.client != nil
}

func (s *analysisService) AnalyzeReport(ctx context.Context, req AnalysisRequest) (<-chan AnalysisEvent, error) {
	if s.client == nil {
		return nil, errors.New("analysis service is not configured")
	}

	prompt, err := buildAnalysisPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build analysis prompt: %w", err)
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start analysis stream: %w", err)
	}

	events := make(chan AnalysisEvent, 16)
	go s.pump(stream, events)
	return events, nil
}

// pump forwards model deltas until EOF or error. The deferred close is the
// only close of the channel.
func (s *analysisService) pump(stream *openai.ChatCompletionStream, events chan<- AnalysisEvent) {
	defer close(events)
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			events <- AnalysisEvent{Type: AnalysisEventDone}
			return
		}
		if err != nil {
			s.logger.Error("Analysis stream receive error", zap.Error(err))
			events <- AnalysisEvent{Type: AnalysisEventError, Content: err.Error()}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		if delta := response.Choices[0].Delta.Content; delta != "" {
			events <- AnalysisEvent{Type: AnalysisEventText, Content: delta}
		}
	}
}

func buildAnalysisPrompt(req AnalysisRequest) (string, error) {
	rows := req.Rows
	truncated := false
	if len(rows) > maxRowsForPrompt {
		rows = rows[:maxRowsForPrompt]
		truncated = true
	}

	serialized, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Report: %s\n", req.ReportName)
	if req.Question != "" {
		fmt.Fprintf(&b, "Question: %s\n", req.Question)
	} else {
		b.WriteString("Question: Summarize the key findings in this report.\n")
	}
	fmt.Fprintf(&b, "Result rows (%d", len(req.Rows))
	if truncated {
		fmt.Fprintf(&b, ", showing first %d", maxRowsForPrompt)
	}
	b.WriteString("):\n")
	b.Write(serialized)
	return b.String(), nil
}
