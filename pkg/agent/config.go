package agent

// Config points to the data directory and the user-driven bridge
// configuration file. Live reload only applies to the bridge configuration.
type Config struct {
	DataDir      string `json:"dataDir"`
	BridgeConfig string `json:"bridgeConfig"`
}
