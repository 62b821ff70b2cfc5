// Package notify delivers the end-of-run message over the channels an
// operator switched on in the params file.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/me/pyra/internal/params"
)

// Channel names, as used in "notification_<channel>" params keys.
const (
	ChannelProwl = "prowl"
	ChannelEmail = "email"
)

// ErrUnknownChannel is returned by Build for an unregistered channel.
var ErrUnknownChannel = errors.New("unknown notification channel")

// Notifier delivers one message.
type Notifier interface {
	// Channel returns the channel name.
	Channel() string
	// Deliver sends subject and message. A single attempt is made.
	Deliver(ctx context.Context, subject, message string) error
}

// None discards every message.
type None struct{}

func (None) Channel() string                               { return "none" }
func (None) Deliver(context.Context, string, string) error { return nil }

// Builder constructs a Notifier from the environment.
type Builder func(getenv func(string) string) (Notifier, error)

// Registry maps channel names to Builders. Registration happens at startup
// before concurrent access, so no mutex is needed.
type Registry struct {
	builders map[string]Builder
	getenv   func(string) string
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry reading settings through getenv.
func NewRegistry(getenv func(string) string, logger *slog.Logger) *Registry {
	return &Registry{
		builders: make(map[string]Builder),
		getenv:   getenv,
		logger:   logger.With("component", "notify"),
	}
}

// DefaultRegistry returns a Registry with the prowl and email channels.
func DefaultRegistry(getenv func(string) string, logger *slog.Logger) *Registry {
	r := NewRegistry(getenv, logger)
	r.Register(ChannelProwl, NewProwlFromEnv)
	r.Register(ChannelEmail, NewEmailFromEnv)
	return r
}

// Register adds a channel.
func (r *Registry) Register(channel string, b Builder) {
	r.builders[channel] = b
	r.logger.Debug("notification channel registered", "channel", channel)
}

// Channels returns registered channel names in sorted order.
func (r *Registry) Channels() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the Notifier for channel.
func (r *Registry) Build(channel string) (Notifier, error) {
	b, ok := r.builders[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	return b(r.getenv)
}

// Enabled builds a Notifier for every registered channel switched on in
// snap. Channels that fail to build are logged and left out.
func (r *Registry) Enabled(snap *params.Snapshot) []Notifier {
	var out []Notifier
	for _, channel := range r.Channels() {
		if !snap.Enabled(channel) {
			continue
		}
		n, err := r.Build(channel)
		if err != nil {
			r.logger.Warn("notification channel unavailable", "channel", channel, "error", err)
			continue
		}
		out = append(out, n)
	}
	return out
}

// DeliverAll sends the message once on every notifier. Failures are logged
// and returned joined; callers are free to ignore them.
func DeliverAll(ctx context.Context, notifiers []Notifier, subject, message string, logger *slog.Logger) error {
	var errs []error
	for _, n := range notifiers {
		if err := n.Deliver(ctx, subject, message); err != nil {
			logger.Warn("notification failed", "channel", n.Channel(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Channel(), err))
			continue
		}
		logger.Info("notification sent", "channel", n.Channel())
	}
	return errors.Join(errs...)
}
