// internal/render/render_test.go
package render

import (
	"strings"
	"testing"
)

func TestRenderPlainText(t *testing.T) {
	r, err := New("gpt-4", true)
	if err != nil {
		t.Fatal(err)
	}

	msg, err := r.Render("Hello world")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Text != "Hello world" {
		t.Errorf("expected text unchanged, got %q", msg.Text)
	}
	if msg.Tokens <= 0 {
		t.Errorf("expected positive token count, got %d", msg.Tokens)
	}
}

func TestRenderHTML(t *testing.T) {
	r, err := New("gpt-4", true)
	if err != nil {
		t.Fatal(err)
	}

	msg, err := r.Render("<p>Swap <strong>ETH</strong> for USDC</p>")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg.Text, "**ETH**") {
		t.Errorf("expected markdown bold, got %q", msg.Text)
	}
	if strings.Contains(msg.Text, "<p>") {
		t.Errorf("expected tags to be converted, got %q", msg.Text)
	}
}

func TestRenderHTMLDisabled(t *testing.T) {
	r, err := New("unknown-model", false)
	if err != nil {
		t.Fatal(err)
	}

	in := "<b>raw</b>"
	msg, err := r.Render(in)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Text != in {
		t.Errorf("expected markup to pass through, got %q", msg.Text)
	}
}
