// Package engine is the composition root that assembles the shopping agent
// from configuration: provider completers, the retailer client and shopping
// toolbox, MCP client toolboxes, and agent factories. Frontends (HTTP, CLI,
// MCP) run tasks through Engine and Session, observe activity through the
// EventBus, and never import lower-level packages directly.
package engine
