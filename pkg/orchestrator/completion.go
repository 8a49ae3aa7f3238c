package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ToolGenerateInterview is the single side-effecting operation the model
// may request during setup.
const ToolGenerateInterview = "generate_interview"

func generateInterviewDescriptor() *ToolDescriptor {
	return &ToolDescriptor{
		Name:        ToolGenerateInterview,
		Description: "Generate a mock interview once the role, level, tech stack, focus and question count have been collected from the user.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"role":  map[string]interface{}{"type": "string", "description": "Job role, e.g. Frontend Developer"},
				"level": map[string]interface{}{"type": "string", "description": "Experience level, e.g. Junior"},
				"stack": map[string]interface{}{"type": "string", "description": "Technologies to cover, e.g. React"},
				"focus": map[string]interface{}{"type": "string", "description": "Technical, Behavioural or Mixed"},
				"count": map[string]interface{}{"type": "string", "description": "Number of questions"},
			},
			"required": []string{"role", "level", "stack", "focus", "count"},
		},
	}
}

// CompletionOrchestrator drives one streaming completion cycle per user
// turn, including the embedded tool-call protocol: detect an in-stream
// tool invocation, execute it exactly once, fold the result back into
// context and resume streaming so the caller observes one continuous
// assistant reply.
type CompletionOrchestrator struct {
	llm    CompletionProvider
	tool   ToolTarget
	logger Logger
}

// NewCompletionOrchestrator creates a completion orchestrator. tool may be
// nil when no side-effecting target is wired (interview-only deployments).
func NewCompletionOrchestrator(llm CompletionProvider, tool ToolTarget, logger Logger) *CompletionOrchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &CompletionOrchestrator{llm: llm, tool: tool, logger: logger}
}

// HasCompletedToolCall reports whether the transcript already records a
// successful call of the named tool. It is a pure function of
// conversation history; no hidden "already called" flag exists.
func HasCompletedToolCall(history []Message, name string) bool {
	for _, m := range history {
		if m.Role == RoleTool && m.ToolResult != nil && m.ToolResult.Name == name && m.ToolResult.Success {
			return true
		}
	}
	return false
}

// RunTurn issues the streaming completion for the latest user turn in
// history. It returns the messages to append to the transcript, in order.
// onDelta receives every incremental text chunk of the turn, including
// chunks from the post-tool continuation stream.
//
// A failed turn (engine error, malformed tool payload) returns an error
// and no messages; the caller may retry by resubmitting the same user
// message. Tool execution failure is not a failed turn: the outcome is
// recorded on a tool message and the conversation continues.
func (co *CompletionOrchestrator) RunTurn(ctx context.Context, mode Mode, history []Message, onDelta func(delta string) error) ([]Message, error) {
	var tool *ToolDescriptor
	if mode == ModeSetup && co.tool != nil && !HasCompletedToolCall(history, ToolGenerateInterview) {
		tool = generateInterviewDescriptor()
	}

	res, err := co.llm.StreamComplete(ctx, history, tool, onDelta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}

	if res.ToolCall == nil {
		return []Message{{Role: RoleAssistant, Content: res.Content}}, nil
	}

	appended, err := co.executeTool(ctx, res)
	if err != nil {
		return nil, err
	}

	// Resume with the tool interface withheld so the model cannot request
	// a second invocation within the same turn. The continuation's deltas
	// are spliced onto the same onDelta sequence.
	cont, err := co.llm.StreamComplete(ctx, append(snapshot(history), appended...), nil, onDelta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}

	return append(appended, Message{Role: RoleAssistant, Content: cont.Content}), nil
}

func (co *CompletionOrchestrator) executeTool(ctx context.Context, res *CompletionResult) ([]Message, error) {
	call := res.ToolCall
	if call.Name != ToolGenerateInterview {
		co.logger.Warn("model requested unknown tool", "tool", call.Name)
		return nil, fmt.Errorf("%w: unknown tool %q", ErrMalformedToolArgs, call.Name)
	}

	var args InterviewArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		co.logger.Warn("tool arguments did not parse", "tool", call.Name, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrMalformedToolArgs, err)
	}

	assistant := Message{
		Role:      RoleAssistant,
		Content:   res.Content,
		ToolCalls: []ToolCallRequest{*call},
	}

	co.logger.Info("executing tool", "tool", call.Name, "id", call.ID)
	result, err := co.tool.GenerateInterview(ctx, args)

	outcome := Message{
		Role:       RoleTool,
		ToolResult: &ToolResult{ID: call.ID, Name: call.Name},
	}
	switch {
	case err != nil:
		co.logger.Error("tool execution failed", "tool", call.Name, "error", err)
		outcome.Content = "The interview could not be generated. Apologise and ask the user if they want to try again."
	case !result.Success:
		co.logger.Error("tool target reported failure", "tool", call.Name)
		outcome.Content = "The interview could not be generated. Apologise and ask the user if they want to try again."
	default:
		outcome.ToolResult.Success = true
		outcome.Content = "The interview has been generated successfully. Let the user know and wrap up the call."
	}

	return []Message{assistant, outcome}, nil
}

func snapshot(history []Message) []Message {
	out := make([]Message, len(history), len(history)+2)
	copy(out, history)
	return out
}

// BuildSystemPrompt returns the system message for a call in the given
// mode. In interview mode the assistant follows the fixed question list
// supplied by the caller and is never offered the tool interface.
func BuildSystemPrompt(mode Mode, questions []string) Message {
	var b strings.Builder
	if mode == ModeInterview {
		b.WriteString("You are a professional job interviewer conducting a real-time voice interview. ")
		b.WriteString("Keep responses short and conversational, suitable for speech. ")
		b.WriteString("Ask the following questions one at a time, acknowledging each answer briefly before moving on:\n")
		for i, q := range questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
		b.WriteString("After the final question, thank the candidate and end the conversation politely.")
	} else {
		b.WriteString("You are a friendly assistant preparing a mock interview. ")
		b.WriteString("Collect the job role, experience level, tech stack, interview focus and question count from the user, one item at a time. ")
		b.WriteString("Keep responses short and conversational, suitable for speech. ")
		b.WriteString("Once you have all five items, call the generate_interview tool with them. Do not call it before then.")
	}
	return Message{Role: RoleSystem, Content: b.String()}
}
