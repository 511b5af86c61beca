package dpm86xx

// Function describes one entry in the device's function map.
type Function struct {
	Code     int
	ReadOnly bool
	// WriteOnly marks functions that never answer a read request.
	WriteOnly bool
}

// Function codes shared by all DPM86XX models. Voltage functions carry
// centivolts on the wire, current functions carry milliamps and the
// temperature function whole degrees Celsius.
var (
	FuncMaxVoltage        = Function{Code: 0, ReadOnly: true}
	FuncMaxCurrent        = Function{Code: 1, ReadOnly: true}
	FuncVoltageSetting    = Function{Code: 10}
	FuncCurrentSetting    = Function{Code: 11}
	FuncOutput            = Function{Code: 12}
	FuncVoltageAndCurrent = Function{Code: 20, WriteOnly: true}
	FuncActualVoltage     = Function{Code: 30, ReadOnly: true}
	FuncActualCurrent     = Function{Code: 31, ReadOnly: true}
	FuncRegulationMode    = Function{Code: 32, ReadOnly: true}
	FuncTemperature       = Function{Code: 33, ReadOnly: true}
)

// Mode is the output regulation mode reported by function 32.
type Mode int

const (
	ModeCV Mode = 0 // constant voltage
	ModeCC Mode = 1 // constant current
)

func (m Mode) String() string {
	switch m {
	case ModeCV:
		return "CV"
	case ModeCC:
		return "CC"
	default:
		return "unknown"
	}
}
