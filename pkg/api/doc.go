// Package api defines the data model shared by the Stagehand engine and its
// hosts: flow definitions, steps, conditions, execution records, run results,
// lifecycle events, and the handler signatures hosts register to supply step
// behavior. Flow definitions round-trip losslessly through JSON.
package api
