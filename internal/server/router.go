// Package server routes chat lines from authenticated sessions to the
// registry: broadcast to everyone, or directed to one user via /msg.
package server

import (
	"go.uber.org/zap"
)

// Router delivers lines over a Registry. Delivery is best effort: a line is
// queued on each recipient and never retried.
type Router struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *Metrics
}

// NewRouter creates a Router over registry. metrics may be nil.
func NewRouter(registry *Registry, logger *zap.Logger, metrics *Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{registry: registry, logger: logger, metrics: metrics}
}

// Route classifies one line from sender and delivers it. A /msg line
// without both a target and text is ordinary chat.
func (r *Router) Route(sender *Session, line string) {
	name, ok := sender.Username()
	if !ok {
		return
	}

	if target, text, ok := parseDirect(line); ok {
		r.Direct(sender, target, text)
		return
	}
	r.Broadcast(name, line)
}

// Broadcast sends "<from>: <text>" to every member, the sender included.
func (r *Router) Broadcast(from, text string) int {
	r.count("broadcast")
	return r.Announce(chatLine(from, text))
}

// Announce sends line verbatim to every member and returns how many
// sessions accepted it.
func (r *Router) Announce(line string) int {
	recipients := r.registry.Snapshot()
	delivered := 0
	for _, s := range recipients {
		if s.Deliver(line) {
			delivered++
		}
	}
	r.logger.Debug("Broadcast delivered",
		zap.Int("recipients", len(recipients)),
		zap.Int("delivered", delivered))
	return delivered
}

// Direct sends a private line to the member named target, matched without
// regard to case. When no member matches, only the sender is told.
func (r *Router) Direct(sender *Session, target, text string) bool {
	from, _ := sender.Username()

	recipient, found := r.registry.FindByName(target)
	if !found {
		r.count("undeliverable")
		sender.Deliver(notFoundLine(target))
		return false
	}

	r.count("direct")
	return recipient.Deliver(privateLine(from, text))
}

func (r *Router) count(kind string) {
	if r.metrics != nil {
		r.metrics.Messages.WithLabelValues(kind).Inc()
	}
}
