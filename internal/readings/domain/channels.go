package readings

import "fmt"

// Channel names one counter or power register of a meter.
type Channel string

const (
	ActiveImport   Channel = "active_import"
	ActiveExport   Channel = "active_export"
	ReactiveImport Channel = "reactive_import"
	ReactiveExport Channel = "reactive_export"
	ReactiveQ1     Channel = "reactive_q1"
	ReactiveQ2     Channel = "reactive_q2"
	ReactiveQ3     Channel = "reactive_q3"
	ReactiveQ4     Channel = "reactive_q4"
	PowerImport    Channel = "power_import"
	PowerExport    Channel = "power_export"
)

// AllChannels lists every channel in storage order.
var AllChannels = []Channel{
	ActiveImport, ActiveExport, ReactiveImport, ReactiveExport,
	ReactiveQ1, ReactiveQ2, ReactiveQ3, ReactiveQ4,
	PowerImport, PowerExport,
}

// CounterChannels are the cumulative energy registers; deltas are computed on these only.
var CounterChannels = []Channel{
	ActiveImport, ActiveExport, ReactiveImport, ReactiveExport,
	ReactiveQ1, ReactiveQ2, ReactiveQ3, ReactiveQ4,
}

// IsValid reports whether the channel is known.
func (c Channel) IsValid() bool {
	for _, ch := range AllChannels {
		if ch == c {
			return true
		}
	}
	return false
}

// IsCounter reports whether the channel is a cumulative register.
func (c Channel) IsCounter() bool {
	for _, ch := range CounterChannels {
		if ch == c {
			return true
		}
	}
	return false
}

// ParseChannel converts a wire name into a Channel.
func ParseChannel(value string) (Channel, error) {
	ch := Channel(value)
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, value)
	}
	return ch, nil
}

// Channels carries optional register values. A nil field means the source
// did not report the channel, which is different from a zero reading.
type Channels struct {
	ActiveImport   *float64
	ActiveExport   *float64
	ReactiveImport *float64
	ReactiveExport *float64
	ReactiveQ1     *float64
	ReactiveQ2     *float64
	ReactiveQ3     *float64
	ReactiveQ4     *float64
	PowerImport    *float64
	PowerExport    *float64
}

func (c *Channels) field(ch Channel) **float64 {
	switch ch {
	case ActiveImport:
		return &c.ActiveImport
	case ActiveExport:
		return &c.ActiveExport
	case ReactiveImport:
		return &c.ReactiveImport
	case ReactiveExport:
		return &c.ReactiveExport
	case ReactiveQ1:
		return &c.ReactiveQ1
	case ReactiveQ2:
		return &c.ReactiveQ2
	case ReactiveQ3:
		return &c.ReactiveQ3
	case ReactiveQ4:
		return &c.ReactiveQ4
	case PowerImport:
		return &c.PowerImport
	case PowerExport:
		return &c.PowerExport
	default:
		return nil
	}
}

// Get returns the raw optional value.
func (c Channels) Get(ch Channel) *float64 {
	f := c.field(ch)
	if f == nil || *f == nil {
		return nil
	}
	v := **f
	return &v
}

// Set stores a copy of the value; nil clears the channel.
func (c *Channels) Set(ch Channel, value *float64) {
	f := c.field(ch)
	if f == nil {
		return
	}
	if value == nil {
		*f = nil
		return
	}
	v := *value
	*f = &v
}

// SetValue stores a concrete value.
func (c *Channels) SetValue(ch Channel, value float64) {
	c.Set(ch, &value)
}

// Value is the strict accessor: ok is false when the channel is absent.
func (c Channels) Value(ch Channel) (float64, bool) {
	v := c.Get(ch)
	if v == nil {
		return 0, false
	}
	return *v, true
}

// ValueOrZero is the zero-fill accessor. Only use it where a missing value
// is explicitly meant to count as zero.
func (c Channels) ValueOrZero(ch Channel) float64 {
	v, _ := c.Value(ch)
	return v
}

// Has reports whether the channel carries a value.
func (c Channels) Has(ch Channel) bool {
	return c.Get(ch) != nil
}

// Present lists channels that carry a value, in storage order.
func (c Channels) Present() []Channel {
	var out []Channel
	for _, ch := range AllChannels {
		if c.Has(ch) {
			out = append(out, ch)
		}
	}
	return out
}

// Clone returns a deep copy.
func (c Channels) Clone() Channels {
	var out Channels
	for _, ch := range AllChannels {
		out.Set(ch, c.Get(ch))
	}
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
