// Package bridge adapts an OpenAI-style agent framework to session-oriented
// agent runtimes that stream typed content blocks.
//
// The framework side speaks chat-completion messages, JSON-schema tool
// declarations and tool_call results (github.com/sashabaranov/go-openai
// types). The runtime side is an [sdk.Opener]: a session takes one prompt,
// emits assistant, user, system, tool-result and result events, and asks a
// permission callback before every tool use. A [Bridge] composes the two:
//
//   - [Normalize] turns framework messages into wire-ready messages.
//   - [Declarations], [BuildLookup] and [AllowedNames] adapt the tool set.
//   - An [Interceptor] answers the runtime's permission callback by running
//     the framework tool and returning an allow or deny verdict.
//   - The session adapter drains events in order and folds them into text or
//     a single tool-calling message.
//
// # Quick Start
//
//	b, err := bridge.New(bridge.Config{MaxInputTokens: 100_000},
//	    bridge.WithOpener(cli.New()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	text, err := b.Ask(ctx, bridge.AskParams{
//	    Messages: []bridge.Message{{Role: "user", Content: "2+2?"}},
//	})
//
// # Runtimes
//
//   - [github.com/armatrix/agent-bridge/sdk/cli] drives an agent CLI over
//     stream-json.
//   - [github.com/armatrix/agent-bridge/sdk/engine] runs the turn loop
//     in-process against the Anthropic Messages API.
//   - [github.com/armatrix/agent-bridge/sdk/sdktest] replays scripted events.
package bridge
