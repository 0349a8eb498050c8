package domain

import (
	"fmt"
	"strconv"
)

// LiveData identifies one broadcast stream on a platform. Equality is
// structural, so LiveData is usable as a map key.
type LiveData struct {
	Site string `json:"site"`
	ID   string `json:"id"`
}

func (l LiveData) Validate() error {
	if l.Site == "" {
		return fmt.Errorf("live data site is empty")
	}
	if l.ID == "" {
		return fmt.Errorf("live data id is empty")
	}
	return nil
}

func (l LiveData) IsZero() bool {
	return l.Site == "" && l.ID == ""
}

func (l LiveData) String() string {
	return l.Site + ":" + l.ID
}

// AddressPort keys per-endpoint connection counts, both for the external
// TCP census and for internally tracked chat connections.
type AddressPort struct {
	Address string
	Port    int
}

func (a AddressPort) String() string {
	return a.Address + ":" + strconv.Itoa(a.Port)
}

// Heartbeat carries the periodic visitor/comment counters of one broadcast.
type Heartbeat struct {
	Visitors int `json:"visitors"`
	Comments int `json:"comments"`
}
