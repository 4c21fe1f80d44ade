package printer

import "strings"

// Pair is a GATT service and the writable characteristic printers expose in it
type Pair struct {
	Service        string
	Characteristic string
}

func (p Pair) IsZero() bool {
	return p.Service == "" || p.Characteristic == ""
}

func (p Pair) Equal(o Pair) bool {
	return strings.EqualFold(p.Service, o.Service) && strings.EqualFold(p.Characteristic, o.Characteristic)
}

// Pairs are tried in this order until one resolves
var Pairs = []Pair{
	// generic thermal printers
	{"000018f0-0000-1000-8000-00805f9b34fb", "00002af1-0000-1000-8000-00805f9b34fb"},
	// iOS profile
	{"e7810a71-73ae-499d-8c15-faa9aef0c3f2", "bef8d6c9-9c21-4c9e-b632-bd58c1009f9f"},
	// Microchip transparent UART
	{"49535343-fe7d-4ae5-8fa9-9fafd205e455", "49535343-8841-43f4-a8d4-ecbe34729bb3"},
	{"0000ff00-0000-1000-8000-00805f9b34fb", "0000ff02-0000-1000-8000-00805f9b34fb"},
	{"0000ae30-0000-1000-8000-00805f9b34fb", "0000ae01-0000-1000-8000-00805f9b34fb"},
}

// ServiceUUIDs lists the services a printer may advertise
func ServiceUUIDs() []string {
	uuids := make([]string, 0, len(Pairs))
	for _, p := range Pairs {
		uuids = append(uuids, p.Service)
	}
	return uuids
}

// resolveOrder puts a previously resolved pair first, then the fixed list
func resolveOrder(known Pair) []Pair {
	if known.IsZero() {
		return Pairs
	}
	order := []Pair{known}
	for _, p := range Pairs {
		if !p.Equal(known) {
			order = append(order, p)
		}
	}
	return order
}
