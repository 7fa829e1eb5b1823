package vantaclient

import "context"

// Vulnerabilities paginates the vulnerability-findings endpoint.
func (c *Client) Vulnerabilities(ctx context.Context, filters map[string]string, onPage OnPage) error {
	return c.Paginate(ctx, EndpointVulnerabilities, filters, onPage)
}

// Remediations paginates the vulnerability-remediations endpoint.
func (c *Client) Remediations(ctx context.Context, filters map[string]string, onPage OnPage) error {
	return c.Paginate(ctx, EndpointRemediations, filters, onPage)
}

// VulnerableAssets paginates the vulnerable-assets endpoint.
func (c *Client) VulnerableAssets(ctx context.Context, filters map[string]string, onPage OnPage) error {
	return c.Paginate(ctx, EndpointVulnerableAssets, filters, onPage)
}
