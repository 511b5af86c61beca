package dpm86xx

// Model defines the limits of a DPM86XX series model. All models share
// the 60.00 V ceiling and differ in maximum output current.
type Model struct {
	Name          string
	MaxCentivolts int
	MaxMilliamps  int
}

// Known models of the series.
var (
	ModelDPM8605 = Model{Name: "DPM8605", MaxCentivolts: 6000, MaxMilliamps: 5000}
	ModelDPM8608 = Model{Name: "DPM8608", MaxCentivolts: 6000, MaxMilliamps: 8000}
	ModelDPM8616 = Model{Name: "DPM8616", MaxCentivolts: 6000, MaxMilliamps: 16000}
	ModelDPM8624 = Model{Name: "DPM8624", MaxCentivolts: 6000, MaxMilliamps: 24000}
)

var models = []*Model{&ModelDPM8605, &ModelDPM8608, &ModelDPM8616, &ModelDPM8624}

// GetModelByName looks up a model by its name, e.g. "DPM8624".
func GetModelByName(name string) (*Model, bool) {
	for _, m := range models {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// GetModelByMaxCurrent looks up a model by the maximum output current it
// reports, in milliamps. The current limit is the only property that
// distinguishes the models over the wire.
func GetModelByMaxCurrent(milliamps int) (*Model, bool) {
	for _, m := range models {
		if m.MaxMilliamps == milliamps {
			return m, true
		}
	}
	return nil, false
}
