package domain

// VMState represents the provisioning state of a VM.
type VMState string

const (
	VMStatePending    VMState = "PENDING"
	VMStatePlaced     VMState = "PLACED"
	VMStateReady      VMState = "READY"
	VMStatePoweringOn VMState = "POWERING_ON"
	VMStateWaitingIP  VMState = "WAITING_IP"
	VMStateDone       VMState = "DONE"
	VMStateFailed     VMState = "FAILED"
)

// VMAction is the action the provisioning layer takes for a VM.
type VMAction string

const (
	VMActionCreate VMAction = "CREATE"
	VMActionStart  VMAction = "START"
)

// Power states as reported by vSphere.
const (
	PowerStateOn  = "poweredOn"
	PowerStateOff = "poweredOff"
)

// VM is a virtual machine known to a placement run, either discovered on a host or
// planned by a previous run.
type VM struct {
	Name       string   `json:"name"`
	Cluster    string   `json:"cluster,omitempty"`
	Group      string   `json:"group,omitempty"`
	Index      int      `json:"index"`
	Host       string   `json:"host,omitempty"`
	CPU        int      `json:"cpu"`
	MemoryMiB  int      `json:"memory_mib"`
	Datastores []string `json:"datastores,omitempty"`
	Networks   []string `json:"networks,omitempty"`
	PowerState string   `json:"power_state,omitempty"`
	IPAddress  string   `json:"ip_address,omitempty"`
	HAEnabled  bool     `json:"ha_enabled"`
	CanHA      bool     `json:"can_ha"`
	Status     VMState  `json:"status"`
	Action     VMAction `json:"action,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Clone returns a deep copy of the VM.
func (v *VM) Clone() *VM {
	if v == nil {
		return nil
	}
	out := *v
	out.Datastores = append([]string(nil), v.Datastores...)
	out.Networks = append([]string(nil), v.Networks...)
	return &out
}
