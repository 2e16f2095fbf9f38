package subscriptions

// ExtensionKey is the key of the payload in a response's "extensions".
const ExtensionKey = "subscriptions"

// Config controls the extension payload.
type Config struct {
	// Version selects the payload layout, 1 or 2. Zero means 1.
	Version int `mapstructure:"version" json:"version" validate:"oneof=1 2"`
	// ExcludeEmpty omits the payload when no subscriber was recorded.
	ExcludeEmpty bool `mapstructure:"exclude_empty" json:"exclude_empty"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config { return Config{Version: 1} }

// Extension is the channel-routing payload attached to a response. Channels
// is only set for version 1.
type Extension struct {
	Version  int         `json:"version"`
	Channel  *string     `json:"channel"`
	Channels *ChannelMap `json:"channels,omitempty"`
}

// HandleBuildExtensionsResponse renders the channels recorded in the current
// execution. It returns nil without error when nothing was recorded and the
// configuration excludes empty payloads. An unsupported version is reported
// as a *ConfigError.
func (r *Registry) HandleBuildExtensionsResponse() (*Extension, error) {
	version := r.config.Version
	if version == 0 {
		version = 1
	}

	var channel *string
	if ch, ok := r.channels.First(); ok {
		channel = &ch
	}
	if channel == nil && r.config.ExcludeEmpty {
		return nil, nil
	}

	switch version {
	case 1:
		return &Extension{Version: 1, Channel: channel, Channels: r.channels.clone()}, nil
	case 2:
		return &Extension{Version: 2, Channel: channel}, nil
	default:
		return nil, &ConfigError{Key: "subscriptions.version", Value: version}
	}
}
