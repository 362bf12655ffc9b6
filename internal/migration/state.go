package migration

// State is a step of the relocation state machine.
type State int

const (
	StateIdle State = iota
	StateLocked
	StateHostValidated
	StateNatCleared
	StateNatApplied
	StateVolumeUnmounted
	StateVolumeMounted
	StateOverrideCommitted
	StateSynced
	StatePowerSignalSent
	StateRolledBack
)

var stateNames = [...]string{
	StateIdle:              "Idle",
	StateLocked:            "Locked",
	StateHostValidated:     "HostValidated",
	StateNatCleared:        "NatCleared",
	StateNatApplied:        "NatApplied",
	StateVolumeUnmounted:   "VolumeUnmounted",
	StateVolumeMounted:     "VolumeMounted",
	StateOverrideCommitted: "OverrideCommitted",
	StateSynced:            "Synced",
	StatePowerSignalSent:   "PowerSignalSent",
	StateRolledBack:        "RolledBack",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Invalid"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
