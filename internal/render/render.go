// internal/render/render.go
package render

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/pkoukk/tiktoken-go"
)

// Message is a finished bot message prepared for display.
type Message struct {
	Text   string
	Tokens int
}

// Renderer turns accumulated transcripts into display text.
type Renderer struct {
	tokenizer *tiktoken.Tiktoken
	html      bool
}

// New creates a Renderer. model selects the tokenizer (e.g. "gpt-4"); when
// html is true, messages containing markup are converted to Markdown.
func New(model string, html bool) (*Renderer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Renderer{tokenizer: enc, html: html}, nil
}

// CountTokens returns the token count for a string.
func (r *Renderer) CountTokens(text string) int {
	return len(r.tokenizer.Encode(text, nil, nil))
}

// Render prepares text for display. Token counts are taken on the raw text
// as streamed by the bot.
func (r *Renderer) Render(text string) (Message, error) {
	out := text
	if r.html && strings.ContainsRune(text, '<') {
		md, err := htmltomarkdown.ConvertString(text)
		if err != nil {
			return Message{}, fmt.Errorf("convert to markdown: %w", err)
		}
		out = strings.TrimSpace(md)
	}
	return Message{Text: out, Tokens: r.CountTokens(text)}, nil
}
