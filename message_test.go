package bridge

import (
	"errors"
	"net/url"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type label struct{ name string }

func (l label) String() string { return "label:" + l.name }

func TestNormalize_DropsMessagesWithoutRole(t *testing.T) {
	in := []Message{
		{Content: "no role"},
		{Role: "user", Content: "hello"},
		{Role: "", Content: "still no role"},
		{Role: "assistant", Content: ""}, // empty, elided
		{Role: "assistant", ToolCalls: []openai.ToolCall{{ID: "t1", Type: openai.ToolTypeFunction}}},
		{Role: "system", Content: "be brief"},
	}

	out, err := Normalize(in, false)
	require.NoError(t, err)

	want := 0
	for _, m := range in {
		hasContent := m.Content != nil && m.Content != ""
		if m.Role != "" && (hasContent || len(m.ToolCalls) > 0) {
			want++
		}
	}
	require.Len(t, out, want)
	assert.Equal(t, "hello", out[0].Content)
	assert.Len(t, out[1].ToolCalls, 1)
	assert.Equal(t, openai.ChatMessageRoleSystem, out[2].Role)
}

func TestNormalize_ForwardsAnyNonEmptyRole(t *testing.T) {
	out, err := Normalize([]Message{
		{Role: openai.ChatMessageRoleTool, Content: "42", ToolCallID: "t1"},
		{Role: "developer", Content: "note"},
	}, false)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, openai.ChatMessageRoleTool, out[0].Role)
	assert.Equal(t, "developer", out[1].Role)
}

func TestNormalize_ContentCoercion(t *testing.T) {
	tests := []struct {
		name    string
		content any
		want    string
	}{
		{"string", "plain", "plain"},
		{"strings", []string{"a", "b"}, "a\nb"},
		{"maps", []map[string]any{{"type": "text", "text": "x"}, {"text": "y"}}, "x\ny"},
		{"mixed", []any{"first", map[string]any{"text": "second"}, 3}, "first\nsecond"},
		{"parts", []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: "p1"}, {Type: openai.ChatMessagePartTypeText, Text: "p2"}}, "p1\np2"},
		{"stringer", label{"x"}, "label:x"},
		{"nil stringer", (*url.URL)(nil), "<nil>"},
		{"number", 42, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Normalize([]Message{{Role: "user", Content: tt.content}}, false)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0].Content)
			assert.Empty(t, out[0].MultiContent)
		})
	}
}

func TestNormalize_UncoercibleContent(t *testing.T) {
	_, err := Normalize([]Message{
		{Role: "user", Content: "ok"},
		{Role: "user", Content: func() {}},
	}, false)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidMessage))

	var ime *InvalidMessageError
	require.True(t, errors.As(err, &ime))
	assert.Equal(t, 1, ime.Index)
	assert.Equal(t, "user", ime.Role)
}

func TestNormalize_ImageSupported(t *testing.T) {
	out, err := Normalize([]Message{{Role: "user", Content: "what is this?", Base64Image: "QUJD"}}, true)
	require.NoError(t, err)
	require.Len(t, out, 1)

	m := out[0]
	assert.Empty(t, m.Content)
	require.Len(t, m.MultiContent, 2)
	assert.Equal(t, textPart("what is this?"), m.MultiContent[0])
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, m.MultiContent[1].Type)
	assert.Equal(t, "data:image/jpeg;base64,QUJD", m.MultiContent[1].ImageURL.URL)
}

func TestNormalize_ImageOnly(t *testing.T) {
	out, err := Normalize([]Message{{Role: "user", Base64Image: "QUJD"}}, true)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].MultiContent, 1)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, out[0].MultiContent[0].Type)
}

func TestNormalize_ImageDroppedWhenUnsupported(t *testing.T) {
	out, err := Normalize([]Message{
		{Role: "user", Content: "caption", Base64Image: "QUJD"},
		{Role: "user", Base64Image: "QUJD"}, // nothing left, elided
		{Role: "user", Content: []any{"see", map[string]any{"image_url": map[string]any{"url": "https://x/y.png"}}}},
	}, false)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "caption", out[0].Content)
	assert.Empty(t, out[0].MultiContent)
	assert.Equal(t, "see", out[1].Content)
}

func TestNormalize_ImagePartsKeptWhenSupported(t *testing.T) {
	out, err := Normalize([]Message{
		{Role: "user", Content: []any{"see", map[string]any{"image_url": map[string]any{"url": "https://x/y.png", "detail": "low"}}}},
	}, true)
	require.NoError(t, err)
	require.Len(t, out[0].MultiContent, 2)
	assert.Equal(t, "https://x/y.png", out[0].MultiContent[1].ImageURL.URL)
	assert.Equal(t, openai.ImageURLDetailLow, out[0].MultiContent[1].ImageURL.Detail)
}

func TestNormalize_PreservesToolFields(t *testing.T) {
	out, err := Normalize([]Message{{Role: "tool", Content: "2", ToolCallID: "t1", Name: "python_execute"}}, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "t1", out[0].ToolCallID)
	assert.Equal(t, "python_execute", out[0].Name)
}
