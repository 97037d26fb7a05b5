package hub

// Config carries the process-level options passed on the iohubd command
// line by the spawning client (or a human). Everything else lives in the
// YAML hub config the ConfigPath points to.
type Config struct {
	ConfigPath string `json:"configPath"`
	DataDir    string `json:"dataDir"`
	// Listen overrides the YAML listen address when set.
	Listen   string `json:"listen"`
	LogLevel string `json:"logLevel"`
	// TimeBase aligns the hub clock epoch with the spawning client's.
	TimeBase float64 `json:"timeBase"`
	// ClientPID, when set, ties the hub's lifetime to that process.
	ClientPID int    `json:"clientPid"`
	CWD       string `json:"cwd"`
}
