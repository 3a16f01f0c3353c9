// Package observability records what sfini does to Step Functions as
// structured JSON Lines events, derives task and execution metrics from
// them on demand and raises alerts when workers misbehave.
package observability
