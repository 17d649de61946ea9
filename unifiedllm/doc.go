// Package unifiedllm is a small provider-agnostic model client.
//
// A Client routes each Request to a registered ProviderAdapter, applying
// middleware on the way. Two adapters ship with the package:
//
//   - ChatCompletionsAdapter speaks the OpenAI-compatible Chat Completions
//     protocol through github.com/openai/openai-go. It is the adapter for
//     Kimi and Moonshot endpoints and round-trips their reasoning_content.
//   - GollmAdapter wraps github.com/teilomillet/gollm for the other vendors
//     gollm supports.
//
// # Quick Start
//
//	adapter := unifiedllm.NewChatCompletionsAdapter("kimi",
//	    unifiedllm.WithBaseURL("https://api.moonshot.cn/v1"),
//	    unifiedllm.WithTokenFunc(func(context.Context) (string, bool) {
//	        return os.Getenv("MOONSHOT_API_KEY"), true
//	    }),
//	)
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("kimi", adapter))
//
//	resp, err := client.Complete(ctx, unifiedllm.Request{
//	    Model:    "kimi-k2.5",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//
// Complete performs exactly one round and never retries. Failures are typed:
// AuthenticationError when no credential is available or it is rejected,
// ProviderError and its subtypes for HTTP failures, NetworkError for
// transport failures and ResponseParseError for unusable responses.
package unifiedllm
