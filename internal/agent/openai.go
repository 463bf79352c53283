// ABOUTME: OpenAI-backed Runner implementation with a bounded tool-call loop
// ABOUTME: Translates streamed completion deltas into the typed event union

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// maxToolRounds bounds how many times a single turn may go back to the
// model after executing tool calls.
const maxToolRounds = 8

// webSearchToolName is the tool the runner surfaces as a hosted web
// search rather than a regular function call.
const webSearchToolName = "web_search"

const systemPrompt = `You are a clinical trials research assistant. You answer questions
about clinical studies using the ClinicalTrials.gov registry. Use the
available tools to search for studies and fetch study details before
answering. Cite NCT IDs when you reference specific trials. Answer in
Markdown.`

// Tool pairs an OpenAI function definition with its local implementation.
type Tool struct {
	Definition openai.Tool
	Invoke     func(ctx context.Context, argsJSON string) (string, error)
}

// OpenAIRunner implements Runner and Explainer against the OpenAI chat
// completions API. Safe for concurrent use; each call creates an
// independent stream.
type OpenAIRunner struct {
	client       *openai.Client
	model        string
	explainModel string
	tools        []Tool
	logger       *slog.Logger
}

// NewOpenAIRunner creates a runner for the given model and tool set.
// explainModel is used for the narrated tool-call explanations and may
// equal model.
func NewOpenAIRunner(apiKey, model, explainModel string, tools []Tool, logger *slog.Logger) *OpenAIRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIRunner{
		client:       openai.NewClient(apiKey),
		model:        model,
		explainModel: explainModel,
		tools:        tools,
		logger:       logger.With("component", "runner"),
	}
}

// Run executes a blocking turn: the model is called repeatedly until it
// produces a final text answer, executing requested tool calls between
// rounds. All provider failures are wrapped in ErrService.
func (r *OpenAIRunner) Run(ctx context.Context, history []Message) (string, error) {
	messages := r.convertHistory(history)

	for round := 0; round < maxToolRounds; round++ {
		resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    r.model,
			Messages: messages,
			Tools:    r.toolDefinitions(),
		})
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrService, err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%w: empty completion", ErrService)
		}

		choice := resp.Choices[0].Message
		if len(choice.ToolCalls) == 0 {
			return choice.Content, nil
		}

		messages = append(messages, choice)
		for _, tc := range choice.ToolCalls {
			messages = append(messages, r.executeToolCall(ctx, tc))
		}
	}

	return "", fmt.Errorf("%w: tool rounds exceeded", ErrService)
}

// RunStreamed executes a streaming turn. The returned channel yields the
// typed event sequence; it is closed on normal completion or after a
// terminal EventError. The producer blocks on each send, so the consumer
// paces the stream.
func (r *OpenAIRunner) RunStreamed(ctx context.Context, history []Message) (<-chan Event, error) {
	events := make(chan Event)
	go r.streamLoop(ctx, r.convertHistory(history), events)
	return events, nil
}

// streamLoop drives streamed completion rounds, executing tool calls
// between rounds, until the model finishes with text.
func (r *OpenAIRunner) streamLoop(ctx context.Context, messages []openai.ChatCompletionMessage, events chan<- Event) {
	defer close(events)

	for round := 0; round < maxToolRounds; round++ {
		calls, done := r.streamOneRound(ctx, messages, events)
		if done {
			return
		}
		if len(calls) == 0 {
			return
		}

		// Record the assistant's tool request, then the results, and go
		// back to the model for the next round.
		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			ToolCalls: calls,
		})
		for _, tc := range calls {
			messages = append(messages, r.executeToolCall(ctx, tc))
		}
	}

	r.emit(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("%w: tool rounds exceeded", ErrService)})
}

// streamOneRound consumes one streamed completion. It returns the tool
// calls the model requested (empty on a final-text round) and whether
// the event stream is finished (error emitted or consumer gone).
func (r *OpenAIRunner) streamOneRound(ctx context.Context, messages []openai.ChatCompletionMessage, events chan<- Event) ([]openai.ToolCall, bool) {
	stream, err := r.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: messages,
		Tools:    r.toolDefinitions(),
		Stream:   true,
	})
	if err != nil {
		r.emit(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("%w: %v", ErrService, err)})
		return nil, true
	}
	defer stream.Close()

	// Tool calls stream incrementally; accumulate fragments by index.
	pending := make(map[int]*openai.ToolCall)
	announced := make(map[int]bool)
	var order []int
	sawToolFinish := false

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if sawToolFinish || len(pending) > 0 {
					return r.finishToolCalls(ctx, pending, order, events)
				}
				return nil, false
			}
			r.emit(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("%w: %v", ErrService, err)})
			return nil, true
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			if !r.emit(ctx, events, Event{Kind: EventTextDelta, Text: delta.Content}) {
				return nil, true
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &openai.ToolCall{Type: openai.ToolTypeFunction}
				order = append(order, index)
			}
			if tc.ID != "" {
				pending[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[index].Function.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pending[index].Function.Arguments += tc.Function.Arguments
			}

			// Announce the invocation as soon as the name is known.
			if !announced[index] && pending[index].Function.Name != "" {
				announced[index] = true
				ev := Event{Kind: EventToolCallStarted, ToolName: pending[index].Function.Name}
				if pending[index].Function.Name == webSearchToolName {
					ev = Event{Kind: EventWebSearchStarted, ToolName: webSearchToolName}
				}
				if !r.emit(ctx, events, ev) {
					return nil, true
				}
			}
		}

		if resp.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			sawToolFinish = true
		}
	}
}

// finishToolCalls emits EventToolCallArgsReady for each completed call
// in the order the model started them.
func (r *OpenAIRunner) finishToolCalls(ctx context.Context, pending map[int]*openai.ToolCall, order []int, events chan<- Event) ([]openai.ToolCall, bool) {
	var calls []openai.ToolCall
	for _, index := range order {
		tc := pending[index]
		if tc.ID == "" || tc.Function.Name == "" {
			continue
		}
		if !r.emit(ctx, events, Event{
			Kind:     EventToolCallArgsReady,
			ToolName: tc.Function.Name,
			ArgsJSON: tc.Function.Arguments,
		}) {
			return nil, true
		}
		calls = append(calls, *tc)
	}
	return calls, false
}

// executeToolCall runs a local tool and converts the result into a tool
// message. Tool failures are reported back to the model rather than
// aborting the turn, so the model can recover or apologize.
func (r *OpenAIRunner) executeToolCall(ctx context.Context, tc openai.ToolCall) openai.ChatCompletionMessage {
	result, err := r.invokeTool(ctx, tc.Function.Name, tc.Function.Arguments)
	if err != nil {
		r.logger.Warn("tool call failed",
			"tool", tc.Function.Name,
			"error", err)
		result = fmt.Sprintf("tool error: %v", err)
	}

	return openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Content:    result,
		ToolCallID: tc.ID,
	}
}

func (r *OpenAIRunner) invokeTool(ctx context.Context, name, argsJSON string) (string, error) {
	for _, tool := range r.tools {
		if tool.Definition.Function != nil && tool.Definition.Function.Name == name {
			return tool.Invoke(ctx, argsJSON)
		}
	}
	return "", fmt.Errorf("unknown tool %q", name)
}

func (r *OpenAIRunner) toolDefinitions() []openai.Tool {
	defs := make([]openai.Tool, len(r.tools))
	for i, tool := range r.tools {
		defs[i] = tool.Definition
	}
	return defs
}

// convertHistory prepends the system prompt and converts boundary
// messages into the provider format.
func (r *OpenAIRunner) convertHistory(history []Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return messages
}

// emit sends an event, giving up if the consumer went away.
func (r *OpenAIRunner) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Explain streams a short plain-language narration of a tool call using
// the explain model. The returned channel closes when the narration ends
// or on any provider error; explanation failures are logged, never fatal.
func (r *OpenAIRunner) Explain(ctx context.Context, toolName, argsJSON string) (<-chan string, error) {
	prompt := fmt.Sprintf(
		"In one or two short sentences, explain in plain language what this clinical-trials search does. Do not mention JSON.\n\nTool: %s\nArguments: %s",
		toolName, argsJSON)

	stream, err := r.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: r.explainModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrService, err)
	}

	chunks := make(chan string)
	go func() {
		defer close(chunks)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					r.logger.Warn("explanation stream failed", "tool", toolName, "error", err)
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			text := resp.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			select {
			case chunks <- text:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, nil
}
