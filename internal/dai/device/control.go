package device

import (
	"maps"
	"slices"
)

// Control is an accumulative set of property changes for a live node. Later
// writes to the same key replace earlier ones. A Control is consumed once by
// Device.SendControl.
type Control struct {
	props map[string]any
}

// Set records a property change.
func (c *Control) Set(key string, v any) {
	if c.props == nil {
		c.props = make(map[string]any)
	}
	c.props[key] = v
}

// Get returns a recorded property.
func (c Control) Get(key string) (any, bool) {
	v, ok := c.props[key]
	return v, ok
}

// Merge folds other into c.
func (c *Control) Merge(other Control) {
	for k, v := range other.props {
		c.Set(k, v)
	}
}

// Len returns the number of distinct properties.
func (c Control) Len() int { return len(c.props) }

// Empty reports whether the control carries no change.
func (c Control) Empty() bool { return len(c.props) == 0 }

// Keys returns the property names, sorted.
func (c Control) Keys() []string {
	return slices.Sorted(maps.Keys(c.props))
}

// Map returns a copy of the properties.
func (c Control) Map() map[string]any {
	return maps.Clone(c.props)
}

// Well-known control properties.
const (
	CtrlConfidenceThreshold = "confidence_threshold"
	CtrlLRCheckThreshold    = "lr_check_threshold"
	CtrlMedianFilter        = "median_filter"
	CtrlAutoExposure        = "auto_exposure"
	CtrlExposureTime        = "exposure_time_us"
	CtrlSensitivityISO      = "sensitivity_iso"
)
