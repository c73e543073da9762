package llm

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestCleanJSONStripsFencing(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	if got := cleanJSON(in); got != `{"a":1}` {
		t.Fatalf("cleanJSON(%q) = %q", in, got)
	}
	if got := cleanJSON(`{"a":1}`); got != `{"a":1}` {
		t.Fatalf("cleanJSON should be a no-op on unfenced input, got %q", got)
	}
}

func TestSplitLabelSummary(t *testing.T) {
	label, summary, err := splitLabelSummary("Label: auth refactor\nSummary: switched to JWT sessions.")
	if err != nil {
		t.Fatalf("splitLabelSummary: %v", err)
	}
	if label != "auth refactor" {
		t.Fatalf("expected label %q, got %q", "auth refactor", label)
	}
	if summary != "switched to JWT sessions." {
		t.Fatalf("expected summary to match, got %q", summary)
	}
}

func TestSplitLabelSummaryRejectsEmptyLabel(t *testing.T) {
	_, _, err := splitLabelSummary("Label:\nSummary: no label here")
	if err == nil {
		t.Fatal("expected error for empty label")
	}
}

func TestIsRetryableClassifiesContextErrors(t *testing.T) {
	if isRetryable(nil) {
		t.Fatal("nil error must not be retryable")
	}
	if isRetryable(context.Canceled) {
		t.Fatal("context.Canceled must not be retryable")
	}
	if isRetryable(context.DeadlineExceeded) {
		t.Fatal("context.DeadlineExceeded must not be retryable")
	}
	if isRetryable(errors.New("some opaque error")) {
		t.Fatal("an unclassified error must default to non-retryable")
	}
}

func TestWithTimeoutDefaultsWhenNonPositive(t *testing.T) {
	ctx, cancel := withTimeout(context.Background(), 0)
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline to be set")
	}
	if time.Until(deadline) > DefaultRemoteTimeout {
		t.Fatalf("expected deadline within DefaultRemoteTimeout, got %s out", time.Until(deadline))
	}
}

func TestNewAnthropicClientRequiresAPIKey(t *testing.T) {
	os.Unsetenv("ANTHROPIC_API_KEY")
	_, err := NewAnthropicClient("", nil)
	if !errors.Is(err, ErrAPIKeyRequired) {
		t.Fatalf("expected ErrAPIKeyRequired, got %v", err)
	}
}

func TestNewAnthropicClientAcceptsExplicitKey(t *testing.T) {
	os.Unsetenv("ANTHROPIC_API_KEY")
	c, err := NewAnthropicClient("sk-ant-test-key", nil)
	if err != nil {
		t.Fatalf("NewAnthropicClient: %v", err)
	}
	if c == nil {
		t.Fatal("expected a non-nil client")
	}
}

func TestNewOllamaClientDefaultsModel(t *testing.T) {
	c, err := NewOllamaClient("")
	if err != nil {
		t.Fatalf("NewOllamaClient: %v", err)
	}
	if c.model != DefaultOllamaModel {
		t.Fatalf("expected default model %q, got %q", DefaultOllamaModel, c.model)
	}
	if c.Name() != "ollama" {
		t.Fatalf("expected Name() to return \"ollama\", got %q", c.Name())
	}
}
