package protocol

// ArduSub custom flight mode numbers.
const (
	ModeStabilize uint32 = 0
	ModeAcro      uint32 = 1
	ModeAltHold   uint32 = 2
	ModeAuto      uint32 = 3
	ModeGuided    uint32 = 4
	ModeCircle    uint32 = 7
	ModeSurface   uint32 = 9
	ModePosHold   uint32 = 16
	ModeManual    uint32 = 19
)

var modeNames = map[uint32]string{
	ModeStabilize: "STABILIZE",
	ModeAcro:      "ACRO",
	ModeAltHold:   "ALT_HOLD",
	ModeAuto:      "AUTO",
	ModeGuided:    "GUIDED",
	ModeCircle:    "CIRCLE",
	ModeSurface:   "SURFACE",
	ModePosHold:   "POSHOLD",
	ModeManual:    "MANUAL",
}

var modeNumbers = func() map[string]uint32 {
	m := make(map[string]uint32, len(modeNames))
	for num, name := range modeNames {
		m[name] = num
	}
	return m
}()

// ModeName returns the display name for a flight mode number, or "UNKNOWN".
func ModeName(mode uint32) string {
	if name, ok := modeNames[mode]; ok {
		return name
	}
	return "UNKNOWN"
}

// ModeNumber resolves a flight mode name to its number.
func ModeNumber(name string) (uint32, bool) {
	num, ok := modeNumbers[name]
	return num, ok
}
