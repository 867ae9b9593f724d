package model

// MapMode is the policy that turns a step's resolved inputs into invocations.
type MapMode string

const (
	MapModeMap       MapMode = "map"
	MapModeZip       MapMode = "zip"
	MapModeBroadcast MapMode = "broadcast"
	MapModeNone      MapMode = "none"
)

// String returns the string representation of the map mode.
func (m MapMode) String() string {
	return string(m)
}

// Valid reports whether m is one of the recognized map modes.
func (m MapMode) Valid() bool {
	switch m {
	case MapModeMap, MapModeZip, MapModeBroadcast, MapModeNone:
		return true
	}
	return false
}

// IsAggregate reports whether the step consumes its inputs whole.
func (m MapMode) IsAggregate() bool {
	return m == MapModeNone
}

// ParseMapMode converts a declared map_mode value. An empty string yields the default.
func ParseMapMode(s string) (MapMode, bool) {
	if s == "" {
		return MapModeMap, true
	}
	m := MapMode(s)
	return m, m.Valid()
}
