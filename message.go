package bridge

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Message is one framework conversation message.
//
// Content is a string, a sequence of parts, or any other value:
//   - a string passes through;
//   - []string, []any, []map[string]any and []openai.ChatMessagePart have
//     the text of every element joined with "\n" (map elements contribute
//     their "text" field, bare strings themselves);
//   - anything else is rendered with fmt.Sprint. Functions, channels and
//     unsafe pointers cannot be rendered and fail normalization.
type Message struct {
	Role        string
	Content     any
	ToolCalls   []openai.ToolCall
	ToolCallID  string
	Name        string
	Base64Image string // JPEG, attached only when images are supported
}

// Normalize converts framework messages into wire-ready chat messages.
//
// Messages without a role are dropped. Messages that end up with neither
// content nor tool calls are elided. When supportsImages is true an attached
// Base64Image (and any image parts in the content) turn the content into a
// multimodal sequence: the text first, then the images. When false images are
// dropped. The only failure is content that cannot be coerced to text.
func Normalize(messages []Message, supportsImages bool) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))

	for i, m := range messages {
		if m.Role == "" {
			continue
		}

		text, images, err := coerceContent(m.Content)
		if err != nil {
			return nil, &InvalidMessageError{Index: i, Role: m.Role, Reason: err.Error()}
		}

		wire := openai.ChatCompletionMessage{
			Role:       m.Role,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}

		if supportsImages && (len(images) > 0 || m.Base64Image != "") {
			if text != "" {
				wire.MultiContent = append(wire.MultiContent, textPart(text))
			}
			wire.MultiContent = append(wire.MultiContent, images...)
			if m.Base64Image != "" {
				wire.MultiContent = append(wire.MultiContent, imagePart("data:image/jpeg;base64,"+m.Base64Image, ""))
			}
		} else {
			wire.Content = text
		}

		if wire.Content == "" && len(wire.MultiContent) == 0 && len(wire.ToolCalls) == 0 {
			continue
		}
		out = append(out, wire)
	}
	return out, nil
}

// coerceContent extracts the text of a content value and any image parts it
// carries.
func coerceContent(content any) (string, []openai.ChatMessagePart, error) {
	switch c := content.(type) {
	case nil:
		return "", nil, nil
	case string:
		return c, nil, nil
	case []string:
		return strings.Join(c, "\n"), nil, nil
	case []openai.ChatMessagePart:
		var texts []string
		var images []openai.ChatMessagePart
		for _, p := range c {
			switch p.Type {
			case openai.ChatMessagePartTypeText:
				texts = append(texts, p.Text)
			case openai.ChatMessagePartTypeImageURL:
				if p.ImageURL != nil {
					images = append(images, p)
				}
			}
		}
		return strings.Join(texts, "\n"), images, nil
	case []map[string]any:
		items := make([]any, len(c))
		for i, m := range c {
			items[i] = m
		}
		return coerceItems(items)
	case []any:
		return coerceItems(c)
	}

	switch reflect.TypeOf(content).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return "", nil, fmt.Errorf("content of type %T cannot be converted to text", content)
	}
	return fmt.Sprint(content), nil, nil
}

func coerceItems(items []any) (string, []openai.ChatMessagePart, error) {
	var texts []string
	var images []openai.ChatMessagePart

	for _, item := range items {
		switch v := item.(type) {
		case string:
			texts = append(texts, v)
		case map[string]any:
			if t, ok := v["text"]; ok {
				texts = append(texts, fmt.Sprint(t))
				continue
			}
			if p, ok := imageFromMap(v); ok {
				images = append(images, p)
			}
		case openai.ChatMessagePart:
			switch {
			case v.Type == openai.ChatMessagePartTypeText:
				texts = append(texts, v.Text)
			case v.ImageURL != nil:
				images = append(images, v)
			}
		}
	}
	return strings.Join(texts, "\n"), images, nil
}

// imageFromMap reads {"image_url": {"url": ...}} or {"image_url": "..."}.
func imageFromMap(m map[string]any) (openai.ChatMessagePart, bool) {
	switch ref := m["image_url"].(type) {
	case string:
		if ref != "" {
			return imagePart(ref, ""), true
		}
	case map[string]any:
		if url, _ := ref["url"].(string); url != "" {
			detail, _ := ref["detail"].(string)
			return imagePart(url, openai.ImageURLDetail(detail)), true
		}
	}
	return openai.ChatMessagePart{}, false
}

func textPart(text string) openai.ChatMessagePart {
	return openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text}
}

func imagePart(url string, detail openai.ImageURLDetail) openai.ChatMessagePart {
	return openai.ChatMessagePart{
		Type:     openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: detail},
	}
}
