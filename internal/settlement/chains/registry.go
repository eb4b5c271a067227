package chains

// Registry holds the long-lived chain clients, constructed once at startup
// and injected into the orchestrator and monitor.
type Registry struct {
	clients map[string]StatusClient
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]StatusClient)}
}

// Register binds a client to a blockchain key.
func (r *Registry) Register(blockchainKey string, c StatusClient) {
	r.clients[blockchainKey] = c
}

// Client resolves the client for a blockchain key.
func (r *Registry) Client(blockchainKey string) (StatusClient, bool) {
	c, ok := r.clients[blockchainKey]
	return c, ok
}
