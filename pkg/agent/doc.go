// Package agent turns a role-specific prompt into generated text through a
// single configured provider, with bounded retries on rate limits.
//
// Invariants:
// - Client.Complete always returns a string; provider failures become annotated text.
// - At most Policy.MaxAttempts calls are made per completion; waits happen only between attempts.
// - Rate-limited and timed-out attempts back off base*2^attempt; other failures are not retried.
// - Without a credential the offline provider answers with text prefixed "(mock)".
//
// Usage:
//
//	provider, _ := agent.NewProvider(agent.ProviderConfig{Name: "gemini", APIKey: key})
//	client, _ := agent.NewClient(agent.ClientConfig{Provider: provider})
//	text := client.Complete(ctx, agent.Request{Role: "academic_advisor", Query: "What major should I pick?"})
//	_ = text
package agent
