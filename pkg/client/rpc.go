package client

// Hub-level RPC wrappers. These are the calls that operate on the hub
// process itself rather than on a device.

// Priority levels accepted by SetPriority.
const (
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityRealtime = "realtime"
)

// ExperimentMeta names an experiment for persistence. Code is the stable
// handle an experiment keeps its id under across re-registrations.
type ExperimentMeta struct {
	Code        string `yaml:"code" json:"code"`
	Title       string `yaml:"title" json:"title,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
	Version     string `yaml:"version" json:"version,omitempty"`
}

// SessionMeta describes one run of a registered experiment.
type SessionMeta struct {
	Code          string         `yaml:"code" json:"code"`
	Name          string         `yaml:"name" json:"name,omitempty"`
	Comments      string         `yaml:"comments" json:"comments,omitempty"`
	ExperimentID  uint32         `yaml:"experiment_id" json:"experiment_id"`
	UUID          string         `yaml:"uuid" json:"uuid,omitempty"`
	UserVariables map[string]any `yaml:"user_variables" json:"user_variables,omitempty"`
}

// SessionInfo is what RegisterSession returns: the assigned numeric id
// plus the uuid the stored record is named by.
type SessionInfo struct {
	ID   uint32 `cbor:"1,keyasint"`
	UUID string `cbor:"2,keyasint"`
}

// ProcessInfo reports the hub process's scheduling state.
type ProcessInfo struct {
	PID      int    `json:"pid"`
	Priority string `json:"priority"`
	Affinity []int  `json:"affinity"`
}

// GetTime reads the hub clock directly. Prefer HubTime for timestamping;
// this call includes a full network round trip.
func (c *Connection) GetTime() (float64, error) {
	return rpc[float64](c, true, "getTime")
}

// GetProcessInfo reports the hub process's pid, priority and affinity.
func (c *Connection) GetProcessInfo() (ProcessInfo, error) {
	return rpc[ProcessInfo](c, true, "getProcessInfo")
}

// SetPriority changes the hub process's scheduling priority. Raising it
// beyond normal requires the hub to hold CAP_SYS_NICE.
func (c *Connection) SetPriority(level string) error {
	_, err := rpc[string](c, false, "setPriority", level)
	return err
}

// GetPriority reports the hub process's current priority level.
func (c *Connection) GetPriority() (string, error) {
	return rpc[string](c, true, "getPriority")
}

// SetProcessAffinity pins the hub process to the given CPU indices. An
// empty list restores the full CPU set.
func (c *Connection) SetProcessAffinity(cpus []int) error {
	_, err := rpc[bool](c, false, "setProcessAffinity", cpus)
	return err
}

// GetProcessAffinity reports the CPUs the hub process may run on.
func (c *Connection) GetProcessAffinity() ([]int, error) {
	return rpc[[]int](c, true, "getProcessAffinity")
}

// RegisterExperiment stores experiment metadata and returns its id. A
// code seen before returns the id assigned on first registration.
func (c *Connection) RegisterExperiment(meta ExperimentMeta) (uint32, error) {
	return rpc[uint32](c, false, "registerExperiment", meta)
}

// RegisterSession stores session metadata and switches the hub's event
// stamping to the new session.
func (c *Connection) RegisterSession(meta SessionMeta) (SessionInfo, error) {
	return rpc[SessionInfo](c, false, "registerSession", meta)
}

// InitConditionVariableTable declares the column names for the current
// session's condition-variable rows.
func (c *Connection) InitConditionVariableTable(names []string) error {
	_, err := rpc[bool](c, false, "initConditionVariableTable", names)
	return err
}

// ExtendConditionVariableTable appends condition-variable rows for the
// current session.
func (c *Connection) ExtendConditionVariableTable(rows [][]any) error {
	_, err := rpc[bool](c, false, "extendConditionVariableTable", rows)
	return err
}

// FlushDataStore forces buffered events to the persistence backend.
func (c *Connection) FlushDataStore() error {
	_, err := rpc[bool](c, false, "flushDataStore")
	return err
}
