package net

import "fmt"

// DispatcherFilterHandleFunc continues the processing of a delivery.
type DispatcherFilterHandleFunc func(dd *DispatcherDelivery) error

// DispatcherFilter inspects a delivery and either calls f to continue or returns to drop it.
type DispatcherFilter func(dd *DispatcherDelivery, f DispatcherFilterHandleFunc) error

// DispatcherFilterChain runs filters in order before the final handler.
type DispatcherFilterChain []DispatcherFilter

func (fc DispatcherFilterChain) Handle(dd *DispatcherDelivery, f DispatcherFilterHandleFunc) error {
	if len(fc) == 0 {
		return f(dd)
	}
	return fc[0](dd, func(dd *DispatcherDelivery) error {
		return fc[1:].Handle(dd, f)
	})
}

func (d *Dispatcher) reloadCommandFilter(commands []uint16) {
	blocked := make(map[uint16]struct{}, len(commands))
	for _, c := range commands {
		blocked[c] = struct{}{}
	}
	d.blocked.Store(&blocked)
}

// commandFilter drops commands listed in the configuration's block list.
func (d *Dispatcher) commandFilter(dd *DispatcherDelivery, f DispatcherFilterHandleFunc) error {
	if blocked := d.blocked.Load(); blocked != nil {
		if _, ok := (*blocked)[dd.Command]; ok {
			return fmt.Errorf("%w: %d", ErrCommandFiltered, dd.Command)
		}
	}
	return f(dd)
}
