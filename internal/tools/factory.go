package tools

import "github.com/kbservice/kbquery/internal/config"

// New builds the default ToolRegistry. web_search is only registered when
// an endpoint is configured, so a deployment without a search provider
// simply never advertises the tool rather than failing every invocation.
func New(cfg config.ToolsConfig) *Registry {
	toolList := []Tool{NewDateTimeTool()}
	if cfg.WebSearchEndpoint != "" {
		client := NewHTTPWebSearchClient(cfg.WebSearchEndpoint, cfg.WebSearchTimeout)
		toolList = append(toolList, NewWebSearchTool(client))
	}
	return NewRegistry(toolList...)
}
