package bridge

import (
	"strings"

	"github.com/sashabaranov/go-openai"
)

// buildPrompt flattens normalized messages into the single prompt string a
// session takes: system text first, then user text, the two blocks separated
// by a blank line. Other roles and image parts are not part of the prompt.
func buildPrompt(messages []openai.ChatCompletionMessage) string {
	var system, user []string
	for _, m := range messages {
		text := messageText(m)
		if text == "" {
			continue
		}
		switch m.Role {
		case openai.ChatMessageRoleSystem:
			system = append(system, text)
		case openai.ChatMessageRoleUser:
			user = append(user, text)
		}
	}

	var blocks []string
	if len(system) > 0 {
		blocks = append(blocks, strings.Join(system, "\n"))
	}
	if len(user) > 0 {
		blocks = append(blocks, strings.Join(user, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

// messageText returns plain content, or the text parts of multimodal content
// joined with a space.
func messageText(m openai.ChatCompletionMessage) string {
	if m.Content != "" {
		return m.Content
	}
	var parts []string
	for _, p := range m.MultiContent {
		if p.Type == openai.ChatMessagePartTypeText && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, " ")
}

// appendToolSection lists the available tools after the prompt so the model
// knows about them even when the runtime receives no formal schema.
func appendToolSection(prompt string, tools []Tool) string {
	if len(tools) == 0 {
		return prompt
	}
	lines := make([]string, 0, len(tools)+1)
	lines = append(lines, toolsHeader)
	for _, t := range tools {
		lines = append(lines, "- "+t.Name()+": "+t.Description())
	}
	return prompt + "\n\n" + strings.Join(lines, "\n")
}
