package gpio

// FakeLine is a test double that records written values.
type FakeLine struct {
	// Values contains every value written, in order.
	Values []int

	// SetError, if set, will be returned by SetValue and the value is not recorded.
	SetError error

	// OnSet, if set, is called after each successful write.
	OnSet func(value int)
}

// SetValue records the write.
func (f *FakeLine) SetValue(value int) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.Values = append(f.Values, value)
	if f.OnSet != nil {
		f.OnSet(value)
	}
	return nil
}

// Last returns the last value written, or -1 if nothing was written.
func (f *FakeLine) Last() int {
	if len(f.Values) == 0 {
		return -1
	}
	return f.Values[len(f.Values)-1]
}
