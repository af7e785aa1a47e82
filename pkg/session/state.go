// Package session holds the canonical per-session state: the set of server
// connections, the capability lists aggregated across them, and the store
// that broadcasts full snapshots to observers. The Agent facade ties the
// connection registry, the authorization coordinator, and the state store
// together behind the operations a caller sees.
package session

import (
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/halcyonlabs/mcpchat/pkg/chat"
	"github.com/halcyonlabs/mcpchat/pkg/mcpconn"
)

// Tool is an aggregated tool stamped with its owning connection.
type Tool struct {
	*mcp.Tool
	ServerID string `json:"serverId"`
}

// Prompt is an aggregated prompt stamped with its owning connection.
type Prompt struct {
	*mcp.Prompt
	ServerID string `json:"serverId"`
}

// Resource is an aggregated resource stamped with its owning connection.
type Resource struct {
	*mcp.Resource
	ServerID string `json:"serverId"`
}

// ServerSummary is the broadcast view of one connection.
type ServerSummary struct {
	URL   string        `json:"url"`
	State mcpconn.State `json:"state"`
	Tools []Tool        `json:"tools"`
	Error string        `json:"error,omitempty"`
}

// Capabilities is the aggregated output over the ready connections.
type Capabilities struct {
	Tools     []Tool     `json:"tools"`
	Prompts   []Prompt   `json:"prompts"`
	Resources []Resource `json:"resources"`
}

// State is the full session snapshot: every connection by ID plus the merged
// capability lists. It is always the product of one whole recomputation,
// never a patch of a previous snapshot.
type State struct {
	Servers map[string]ServerSummary `json:"servers"`
	Capabilities
}

// Aggregate merges the capability lists of the ready connections, stamping
// every item with its source connection ID. Connections in any other state
// contribute nothing, so items from removed or failed servers can never
// linger. (name, serverID) pairs are unique by construction; the same name
// from two servers stays as two items.
func Aggregate(conns []mcpconn.Summary) Capabilities {
	caps := Capabilities{
		Tools:     []Tool{},
		Prompts:   []Prompt{},
		Resources: []Resource{},
	}
	for _, conn := range conns {
		if conn.State != mcpconn.StateReady {
			continue
		}
		for _, tool := range conn.Tools {
			caps.Tools = append(caps.Tools, Tool{Tool: tool, ServerID: conn.ID})
		}
		for _, prompt := range conn.Prompts {
			caps.Prompts = append(caps.Prompts, Prompt{Prompt: prompt, ServerID: conn.ID})
		}
		for _, resource := range conn.Resources {
			caps.Resources = append(caps.Resources, Resource{Resource: resource, ServerID: conn.ID})
		}
	}
	return caps
}

// Snapshot builds the full session state for the given connection set:
// every connection appears in Servers whatever its state, while the merged
// capability lists come from Aggregate.
func Snapshot(conns []mcpconn.Summary) State {
	sorted := append([]mcpconn.Summary(nil), conns...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].URL < sorted[j].URL })

	state := State{
		Servers:      make(map[string]ServerSummary, len(sorted)),
		Capabilities: Aggregate(sorted),
	}
	for _, conn := range sorted {
		summary := ServerSummary{URL: conn.URL, State: conn.State, Tools: []Tool{}}
		for _, tool := range conn.Tools {
			summary.Tools = append(summary.Tools, Tool{Tool: tool, ServerID: conn.ID})
		}
		if conn.Err != nil {
			summary.Error = conn.Err.Error()
		}
		state.Servers[conn.ID] = summary
	}
	return state
}

// ProxyTools converts the aggregated tool list into the proxy's input shape.
func (s State) ProxyTools() []chat.ProxyTool {
	out := make([]chat.ProxyTool, 0, len(s.Tools))
	for _, tool := range s.Tools {
		out = append(out, chat.ProxyTool{ServerID: tool.ServerID, Tool: tool.Tool})
	}
	return out
}
