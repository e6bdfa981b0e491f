package edgecache

// Fixed middleware priorities for [Runtime.Handler]. Lower runs first.
const (
	OrderRecover   = 100
	OrderRequestID = 200
	OrderAccessLog = 300
)

// DefaultConfigPath is read by the CLI when --config is not given.
const DefaultConfigPath = "edgecache.yaml"
