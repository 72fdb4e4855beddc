package process

import "github.com/thermactl/thermactl/device"

// The domain rule: environments own sensor values; controllers own actuator
// values. The arbiter compares input and output device-by-device after each
// Execute. Violations are programming errors and propagate past the
// operational-failure swallow.

// checkTransition verifies that out is a transition the variant is allowed
// to produce from in. declared is the producer's discovery inventory; only
// environments populate it, and only declared devices may appear in output
// without an input counterpart.
func checkTransition(name string, variant Variant, in, out device.StateMap, declared map[string]device.Device) error {
	if variant == VariantComposite {
		return nil
	}

	violation := func(role, dev, reason string) error {
		return &PermissionError{Process: name, Variant: variant, Role: role, Device: dev, Reason: reason}
	}

	for _, role := range out.Roles() {
		outState, _ := out.Role(role)
		inState, _ := in.Role(role)
		for _, d := range outState.Devices() {
			prev, sameRole := inState.Get(d.Name())
			if !sameRole {
				// Device names identify one interface point across roles:
				// a controller moving a known actuator into "desired" is
				// not minting a device.
				prev, _, _ = in.Device(d.Name())
			}

			if prev.IsZero() {
				if variant != VariantEnvironment {
					return violation(role, d.Name(), "introduced device absent from input")
				}
				decl, ok := declared[d.Name()]
				if !ok {
					return violation(role, d.Name(), "introduced device outside declared inventory")
				}
				if decl.Kind() != d.Kind() {
					return violation(role, d.Name(), "kind differs from declared inventory")
				}
				continue
			}

			if prev.Kind() != d.Kind() {
				return violation(role, d.Name(), "changed device kind")
			}

			switch variant {
			case VariantEnvironment:
				if d.Kind() == device.KindActuator && d.Value() != prev.Value() {
					return violation(role, d.Name(), "environment rewrote actuator value")
				}
			case VariantController:
				if d.Kind() == device.KindSensor {
					if !sameRole {
						return violation(role, d.Name(), "controller introduced sensor into role")
					}
					if !d.Equal(prev) {
						return violation(role, d.Name(), "controller altered sensor")
					}
				} else if prev.Quality().Latched() && d.Quality() == device.QualityValid {
					return violation(role, d.Name(), "controller re-attested latched quality")
				}
			}
		}
	}

	// Controllers never remove a device (nor a whole role carrying one).
	if variant == VariantController {
		for _, role := range in.Roles() {
			inState, _ := in.Role(role)
			outState, _ := out.Role(role)
			for _, name := range inState.Names() {
				if !outState.Has(name) {
					return violation(role, name, "controller removed device")
				}
			}
		}
	}
	return nil
}

// CheckTransition exposes the arbiter for processes that bypass the Base
// execute path but still want the variant rules enforced.
func CheckTransition(name string, variant Variant, in, out device.StateMap) error {
	return checkTransition(name, variant, in, out, nil)
}
