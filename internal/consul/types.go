package consul

// Node is a snapshot of one discovered CAP dashboard instance.
type Node struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	// Tags is the backend tag list joined with ", ".
	Tags string `json:"tags"`
}

// Options configures the discovery adapter. It is not mutated after New.
type Options struct {
	DiscoveryServerHostName string `mapstructure:"discovery_server_hostname" validate:"required"`
	DiscoveryServerPort     int    `mapstructure:"discovery_server_port" validate:"min=1,max=65535"`
	DiscoveryServerScheme   string `mapstructure:"discovery_server_scheme" validate:"omitempty,oneof=http https"`
	Datacenter              string `mapstructure:"datacenter"`
	Token                   string `mapstructure:"token"`

	CurrentNodeHostName string `mapstructure:"current_node_hostname" validate:"required"`
	CurrentNodePort     int    `mapstructure:"current_node_port" validate:"min=1,max=65535"`
	CurrentNodeScheme   string `mapstructure:"current_node_scheme" validate:"oneof=http https"`

	NodeID   string `mapstructure:"node_id" validate:"required"`
	NodeName string `mapstructure:"node_name" validate:"required"`

	// MatchPath is the dashboard path prefix, e.g. "/cap".
	MatchPath  string   `mapstructure:"match_path"`
	CustomTags []string `mapstructure:"custom_tags"`
}
