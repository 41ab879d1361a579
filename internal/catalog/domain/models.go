// Package domain contains the operation descriptor catalog types.
package domain

// Operation describes one billable unit of remote agent work.
type Operation struct {
	Code        string `json:"code"`
	Title       string `json:"title"`
	BaseCost    int64  `json:"base_cost"`
	WebhookPath string `json:"-"`
}
