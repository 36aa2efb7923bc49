package runner

import (
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/AlbusWei/auto-ai-testing/internal/config"
)

const responseModeBlocking = "blocking"

// modelPayload builds the request body for one model call. The body is
// opaque to the caller; only the dialect decides its shape.
func modelPayload(cfg *config.Config, input string, files []config.FileAttachment, difyInputs map[string]any) any {
	switch cfg.ModelKind {
	case config.ModelDifyCompletion:
		inputs := map[string]any{}
		for k, v := range difyInputs {
			inputs[k] = v
		}

		inputs[cfg.InputField] = input

		payload := map[string]any{
			"inputs":        inputs,
			"response_mode": responseModeBlocking,
			"user":          cfg.UserID,
		}
		if len(files) > 0 {
			payload["files"] = files
		}

		return payload

	case config.ModelDifyChat:
		inputs := map[string]any{}
		for k, v := range difyInputs {
			inputs[k] = v
		}

		payload := map[string]any{
			"inputs":        inputs,
			"query":         input,
			"response_mode": responseModeBlocking,
			"user":          cfg.UserID,
		}
		if cfg.ConversationID != "" {
			payload["conversation_id"] = cfg.ConversationID
		}

		if len(files) > 0 {
			payload["files"] = files
		}

		return payload

	case config.ModelOpenAIChat:
		return openai.ChatCompletionRequest{
			Model: cfg.ModelName,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: input},
			},
		}

	default:
		return map[string]any{cfg.InputField: input}
	}
}

// judgeItem is one graded pair inside a grouped judge call.
type judgeItem struct {
	GroundTruth string `json:"ground_truth"`
	Output      string `json:"output"`
}

// judgePayload builds the request body for one judge call over a group of
// rows. Groups of size one use the flat single-pair shape.
func judgePayload(cfg *config.Config, items []judgeItem) any {
	grouped := cfg.BatchSize > 1 || cfg.MaxMergeRows > 1

	switch cfg.JudgeKind {
	case config.JudgeDifyWorkflow:
		if grouped {
			return map[string]any{
				"inputs":        map[string]any{"items": items},
				"response_mode": responseModeBlocking,
				"user":          cfg.UserID,
			}
		}

		return map[string]any{
			"inputs": map[string]any{
				"ground_truth": items[0].GroundTruth,
				"output":       items[0].Output,
			},
			"response_mode": responseModeBlocking,
			"user":          cfg.UserID,
		}

	case config.JudgeChat:
		return map[string]any{
			"inputs":        map[string]any{},
			"query":         singleJudgeInput(items[0]),
			"response_mode": responseModeBlocking,
			"user":          cfg.UserID,
		}

	default:
		if grouped {
			return map[string]any{"items": items}
		}

		return map[string]any{"input": singleJudgeInput(items[0])}
	}
}

func singleJudgeInput(item judgeItem) string {
	return fmt.Sprintf("ground_truth: %s\noutput: %s", item.GroundTruth, item.Output)
}
