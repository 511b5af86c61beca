package dpm86xx

import (
	"context"
	"fmt"
	"math"
)

// Device provides a high-level interface to a single power supply on
// the bus. Voltages travel as centivolts and currents as milliamps on
// the wire; the float methods convert at the boundary.
type Device struct {
	bus     *Bus
	address int
	model   *Model
}

// NewDevice creates a new Device instance.
// If model is nil, defaults to the DPM8624.
func NewDevice(bus *Bus, address int, model *Model) *Device {
	if model == nil {
		model = &ModelDPM8624
	}
	return &Device{
		bus:     bus,
		address: address,
		model:   model,
	}
}

// Address returns the device's bus address.
func (d *Device) Address() int {
	return d.address
}

// Model returns the device's model specification.
func (d *Device) Model() *Model {
	return d.model
}

// SetModel changes the device's model.
func (d *Device) SetModel(model *Model) {
	d.model = model
}

// DetectModel reads the device's current limit and sets the model
// accordingly.
func (d *Device) DetectModel(ctx context.Context) error {
	maxMA, err := d.bus.Read(ctx, d.address, FuncMaxCurrent)
	if err != nil {
		return err
	}

	model, ok := GetModelByMaxCurrent(maxMA)
	if !ok {
		return fmt.Errorf("unknown model with %d mA current limit", maxMA)
	}
	d.model = model

	return nil
}

// Set-points

// SetVoltage sets the output voltage set-point in volts.
// Values are quantized to the device's 10 mV resolution.
func (d *Device) SetVoltage(ctx context.Context, volts float64) error {
	return d.SetVoltageCentivolts(ctx, int(math.Round(volts*100)))
}

// SetVoltageCentivolts sets the output voltage set-point in centivolts.
func (d *Device) SetVoltageCentivolts(ctx context.Context, centivolts int) error {
	if err := d.validateVoltage(centivolts); err != nil {
		return err
	}
	return d.bus.Write(ctx, d.address, FuncVoltageSetting, centivolts)
}

// SetCurrent sets the output current set-point in amps.
// Values are quantized to the device's 1 mA resolution.
func (d *Device) SetCurrent(ctx context.Context, amps float64) error {
	return d.SetCurrentMilliamps(ctx, int(math.Round(amps*1000)))
}

// SetCurrentMilliamps sets the output current set-point in milliamps.
func (d *Device) SetCurrentMilliamps(ctx context.Context, milliamps int) error {
	if err := d.validateCurrent(milliamps); err != nil {
		return err
	}
	return d.bus.Write(ctx, d.address, FuncCurrentSetting, milliamps)
}

// SetVoltageAndCurrent sets both set-points in a single transaction,
// voltage in volts and current in milliamps.
func (d *Device) SetVoltageAndCurrent(ctx context.Context, volts float64, milliamps int) error {
	centivolts := int(math.Round(volts * 100))
	if err := d.validateVoltage(centivolts); err != nil {
		return err
	}
	if err := d.validateCurrent(milliamps); err != nil {
		return err
	}
	return d.bus.Write(ctx, d.address, FuncVoltageAndCurrent, centivolts, milliamps)
}

// VoltageSetting reads back the voltage set-point in volts.
func (d *Device) VoltageSetting(ctx context.Context) (float64, error) {
	cv, err := d.bus.Read(ctx, d.address, FuncVoltageSetting)
	if err != nil {
		return 0, err
	}
	return float64(cv) / 100, nil
}

// CurrentSettingMilliamps reads back the current set-point in milliamps.
func (d *Device) CurrentSettingMilliamps(ctx context.Context) (int, error) {
	return d.bus.Read(ctx, d.address, FuncCurrentSetting)
}

// Output control

// SetOutput enables or disables the output.
func (d *Device) SetOutput(ctx context.Context, on bool) error {
	var val int
	if on {
		val = 1
	}
	return d.bus.Write(ctx, d.address, FuncOutput, val)
}

// Output returns whether the output is enabled.
func (d *Device) Output(ctx context.Context) (bool, error) {
	val, err := d.bus.Read(ctx, d.address, FuncOutput)
	if err != nil {
		return false, err
	}
	return val != 0, nil
}

// Readback

// ActualVoltage reads the measured output voltage in volts.
func (d *Device) ActualVoltage(ctx context.Context) (float64, error) {
	cv, err := d.ActualVoltageCentivolts(ctx)
	if err != nil {
		return 0, err
	}
	return float64(cv) / 100, nil
}

// ActualVoltageCentivolts reads the measured output voltage in centivolts.
func (d *Device) ActualVoltageCentivolts(ctx context.Context) (int, error) {
	return d.bus.Read(ctx, d.address, FuncActualVoltage)
}

// ActualCurrent reads the measured output current in amps.
func (d *Device) ActualCurrent(ctx context.Context) (float64, error) {
	ma, err := d.ActualCurrentMilliamps(ctx)
	if err != nil {
		return 0, err
	}
	return float64(ma) / 1000, nil
}

// ActualCurrentMilliamps reads the measured output current in milliamps.
func (d *Device) ActualCurrentMilliamps(ctx context.Context) (int, error) {
	return d.bus.Read(ctx, d.address, FuncActualCurrent)
}

// Temperature reads the device's internal temperature in degrees Celsius.
func (d *Device) Temperature(ctx context.Context) (float64, error) {
	val, err := d.bus.Read(ctx, d.address, FuncTemperature)
	if err != nil {
		return 0, err
	}
	return float64(val), nil
}

// Mode reads the output regulation mode (constant voltage or constant
// current).
func (d *Device) Mode(ctx context.Context) (Mode, error) {
	val, err := d.bus.Read(ctx, d.address, FuncRegulationMode)
	if err != nil {
		return 0, err
	}

	switch val {
	case 0:
		return ModeCV, nil
	case 1:
		return ModeCC, nil
	default:
		return 0, &DeviceError{
			Address: d.address,
			Op:      "read regulation mode",
			Err:     fmt.Errorf("%w: unknown mode code %d", ErrInvalidFrame, val),
		}
	}
}

// Limits

// MaxVoltage reads the device's maximum output voltage in volts.
func (d *Device) MaxVoltage(ctx context.Context) (float64, error) {
	cv, err := d.bus.Read(ctx, d.address, FuncMaxVoltage)
	if err != nil {
		return 0, err
	}
	return float64(cv) / 100, nil
}

// MaxCurrentMilliamps reads the device's maximum output current in
// milliamps.
func (d *Device) MaxCurrentMilliamps(ctx context.Context) (int, error) {
	return d.bus.Read(ctx, d.address, FuncMaxCurrent)
}

// Validation happens before any bytes reach the transport.

func (d *Device) validateVoltage(centivolts int) error {
	if centivolts < 0 || centivolts > d.model.MaxCentivolts {
		return fmt.Errorf("%w: voltage %d cV (valid range: 0-%d for %s)",
			ErrOutOfRange, centivolts, d.model.MaxCentivolts, d.model.Name)
	}
	return nil
}

func (d *Device) validateCurrent(milliamps int) error {
	if milliamps < 0 || milliamps > d.model.MaxMilliamps {
		return fmt.Errorf("%w: current %d mA (valid range: 0-%d for %s)",
			ErrOutOfRange, milliamps, d.model.MaxMilliamps, d.model.Name)
	}
	return nil
}
