package completion

import (
	"context"
	"errors"
	"testing"
)

func TestChainFallback(t *testing.T) {
	failing := WithError(&APIError{StatusCode: 503, Message: "overloaded", Provider: "openai"})
	working := NewMock("From working provider.")

	chain, err := NewChain(failing, working)
	if err != nil {
		t.Fatalf("Failed to create chain: %v", err)
	}

	resp, err := chain.Complete(context.Background(), &Request{Prompt: "test"})
	if err != nil {
		t.Fatalf("Chain complete failed: %v", err)
	}
	if resp.Text != "From working provider." {
		t.Errorf("Unexpected response: %s", resp.Text)
	}
	if failing.CallCount() != 1 || working.CallCount() != 1 {
		t.Errorf("Expected one call each, got %d and %d", failing.CallCount(), working.CallCount())
	}
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	first := NewMock("first.")
	second := NewMock("second.")
	chain, _ := NewChain(first, second)

	resp, err := chain.Complete(context.Background(), &Request{Prompt: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "first." || second.CallCount() != 0 {
		t.Errorf("second provider should not be called")
	}
}

func TestChainAllFail(t *testing.T) {
	rate := &APIError{StatusCode: 429, Message: "slow down", Provider: "openai"}
	p1 := WithError(rate)
	p2 := WithError(errors.New("provider 2 failed"))

	chain, _ := NewChain(p1, p2)
	_, err := chain.Complete(context.Background(), &Request{Prompt: "test"})
	if err == nil {
		t.Fatal("Expected error when all providers fail")
	}

	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("Expected ChainError, got %T", err)
	}
	if len(chainErr.Errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(chainErr.Errors))
	}
	if !IsRateLimited(err) {
		t.Error("rate limit from the first provider should be visible through the chain")
	}
}

func TestChainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := WithError(errors.New("boom"))
	first.CompleteFunc = func(ctx context.Context, req *Request) (*Response, error) {
		cancel()
		return nil, errors.New("boom")
	}
	second := NewMock("unused.")

	chain, _ := NewChain(first, second)
	_, err := chain.Complete(ctx, &Request{Prompt: "test"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if second.CallCount() != 0 {
		t.Error("no fallback after cancellation")
	}
}

func TestChainRequiresProvider(t *testing.T) {
	if _, err := NewChain(); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Expected ErrProviderUnavailable, got %v", err)
	}
}

func TestChainName(t *testing.T) {
	a := NewMock("")
	a.NameOverride = "openai"
	b := NewMock("")
	b.NameOverride = "gemini"
	chain, _ := NewChain(a, b)
	if chain.Name() != "openai>gemini" {
		t.Errorf("Unexpected name: %s", chain.Name())
	}
}
