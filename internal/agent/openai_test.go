// ABOUTME: Tests for the OpenAI runner's provider-independent pieces
// ABOUTME: Covers history conversion, tool dispatch and tool error reporting

package agent

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTool(name string, invoke func(ctx context.Context, argsJSON string) (string, error)) Tool {
	return Tool{
		Definition: openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name: name,
			},
		},
		Invoke: invoke,
	}
}

func TestConvertHistory_PrependsSystemPrompt(t *testing.T) {
	r := NewOpenAIRunner("", "gpt-4o-mini", "gpt-4o-mini", nil, nil)

	history := []Message{
		{Role: RoleUser, Content: "find trials for asthma"},
		{Role: RoleAssistant, Content: "Found 3 trials."},
	}

	messages := r.convertHistory(history)
	require.Len(t, messages, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	assert.Equal(t, RoleUser, messages[1].Role)
	assert.Equal(t, "find trials for asthma", messages[1].Content)
	assert.Equal(t, RoleAssistant, messages[2].Role)
}

func TestInvokeTool_Dispatch(t *testing.T) {
	called := ""
	r := NewOpenAIRunner("", "gpt-4o-mini", "gpt-4o-mini", []Tool{
		testTool("list_studies", func(ctx context.Context, argsJSON string) (string, error) {
			called = argsJSON
			return "results", nil
		}),
	}, nil)

	result, err := r.invokeTool(context.Background(), "list_studies", `{"query":"asthma"}`)
	require.NoError(t, err)
	assert.Equal(t, "results", result)
	assert.Equal(t, `{"query":"asthma"}`, called)
}

func TestInvokeTool_Unknown(t *testing.T) {
	r := NewOpenAIRunner("", "gpt-4o-mini", "gpt-4o-mini", nil, nil)

	_, err := r.invokeTool(context.Background(), "nope", "{}")
	assert.Error(t, err)
}

func TestExecuteToolCall_ReportsErrorToModel(t *testing.T) {
	r := NewOpenAIRunner("", "gpt-4o-mini", "gpt-4o-mini", []Tool{
		testTool("fetch_study", func(ctx context.Context, argsJSON string) (string, error) {
			return "", errors.New("upstream 500")
		}),
	}, nil)

	msg := r.executeToolCall(context.Background(), openai.ToolCall{
		ID:   "call-1",
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      "fetch_study",
			Arguments: `{"nct_id":"NCT00000000"}`,
		},
	})

	assert.Equal(t, openai.ChatMessageRoleTool, msg.Role)
	assert.Equal(t, "call-1", msg.ToolCallID)
	assert.Contains(t, msg.Content, "tool error")
}

func TestToolDefinitions(t *testing.T) {
	r := NewOpenAIRunner("", "gpt-4o-mini", "gpt-4o-mini", []Tool{
		testTool("list_studies", nil),
		testTool("fetch_study", nil),
	}, nil)

	defs := r.toolDefinitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "list_studies", defs[0].Function.Name)
	assert.Equal(t, "fetch_study", defs[1].Function.Name)
}
