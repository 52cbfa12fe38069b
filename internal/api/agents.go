package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Agents lists every agent.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := c.do(ctx, call{method: http.MethodGet, path: "/agents"}, &agents); err != nil {
		return nil, err
	}
	if agents == nil {
		agents = []Agent{}
	}
	for i := range agents {
		agents[i].normalize()
	}
	return agents, nil
}

// Agent fetches one agent. Lookups are cached briefly.
func (c *Client) Agent(ctx context.Context, id string) (Agent, error) {
	if id == "" {
		return Agent{}, fmt.Errorf("api: agent id is required")
	}
	return cached(c, "agent:"+id, func() (Agent, error) {
		var agent Agent
		if err := c.do(ctx, call{method: http.MethodGet, path: "/agents/" + escape(id)}, &agent); err != nil {
			return Agent{}, err
		}
		agent.normalize()
		return agent, nil
	})
}

// AgentStats returns the fleet summary. The endpoint has been seen both with
// and without the envelope, so a body lacking "data" is decoded directly.
func (c *Client) AgentStats(ctx context.Context) (AgentStats, error) {
	cl := call{method: http.MethodGet, path: "/agents/stats"}
	raw, err := c.send(ctx, cl)
	if err != nil {
		return AgentStats{}, err
	}
	data, err := unwrap(cl.path, raw)
	if err != nil {
		return AgentStats{}, err
	}
	if len(data) == 0 || string(data) == "null" {
		data = raw
	}
	var stats AgentStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return AgentStats{}, fmt.Errorf("api: decode %s: %w", cl.path, err)
	}
	return stats, nil
}

// AgentMetrics returns the last day of metrics for one agent.
func (c *Client) AgentMetrics(ctx context.Context, id string) (AgentMetrics, error) {
	if id == "" {
		return AgentMetrics{}, fmt.Errorf("api: agent id is required")
	}
	var metrics AgentMetrics
	if err := c.do(ctx, call{method: http.MethodGet, path: "/agents/" + escape(id) + "/metrics"}, &metrics); err != nil {
		return AgentMetrics{}, err
	}
	if metrics.Timeline == nil {
		metrics.Timeline = []MetricsPoint{}
	}
	return metrics, nil
}

// CreateAgent registers a new agent.
func (c *Client) CreateAgent(ctx context.Context, draft AgentDraft) (Agent, error) {
	if strings.TrimSpace(draft.Name) == "" {
		return Agent{}, fmt.Errorf("api: agent name is required")
	}
	var agent Agent
	if err := c.do(ctx, call{method: http.MethodPost, path: "/agents", body: draft, auth: authRequired}, &agent); err != nil {
		return Agent{}, err
	}
	c.invalidate()
	agent.normalize()
	return agent, nil
}
