// Package sdk defines the contract between the bridge and a session-oriented
// agent runtime: the runtime receives a single prompt plus [Options] and
// answers with an ordered stream of typed [Event]s.
//
// Two runtimes ship with the module:
//
//   - [github.com/armatrix/agent-bridge/sdk/cli] drives an agent CLI over
//     line-delimited stream JSON.
//   - [github.com/armatrix/agent-bridge/sdk/engine] runs the agent turn loop
//     in-process against the Anthropic Messages API.
package sdk
