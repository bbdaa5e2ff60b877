package ai

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/career-chat/backend/internal/model/chat"
)

// CareerSystemPrompt is the counselor persona. It is prepended to every
// completion and never persisted.
const CareerSystemPrompt = "You are a practical, encouraging career counselor. " +
	"Ask clarifying questions when needed and provide concrete, step-by-step guidance " +
	"(skills, resources, next steps). Keep answers concise and actionable."

// DefaultMaxTurns bounds how many history messages reach the model.
const DefaultMaxTurns = 25

func newCounselorTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
	)
}

// counselorInput maps persisted history into template variables. System rows
// are dropped and only the newest maxTurns messages are kept.
func counselorInput(history []chat.Message, maxTurns int) map[string]any {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	turns := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case chat.RoleUser:
			turns = append(turns, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			turns = append(turns, schema.AssistantMessage(msg.Content, nil))
		}
	}
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}

	return map[string]any{
		"system":  CareerSystemPrompt,
		"history": turns,
	}
}
