package input

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_ABS = 0x03
	EV_MSC = 0x04

	ABS_X = 0x00
	ABS_Y = 0x01

	// Multitouch protocol B axes
	ABS_MT_SLOT        = 0x2f
	ABS_MT_POSITION_X  = 0x35
	ABS_MT_POSITION_Y  = 0x36
	ABS_MT_TRACKING_ID = 0x39

	MSC_RAW = 0x03

	KEY_HOME  = 102
	KEY_POWER = 116

	// The sleep cover shows up as an odd key code on these boards.
	KEY_SLEEPCOVER = 59

	BTN_TOUCH = 0x14a
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Raw gravity-sensor samples as delivered by the ntx kernel driver in
// EV_MSC/MSC_RAW events.
const (
	MSC_RAW_GSENSOR_PORTRAIT_DOWN   = 0x17
	MSC_RAW_GSENSOR_PORTRAIT_UP     = 0x18
	MSC_RAW_GSENSOR_LANDSCAPE_RIGHT = 0x19
	MSC_RAW_GSENSOR_LANDSCAPE_LEFT  = 0x1a
	MSC_RAW_GSENSOR_BACK            = 0x1b
	MSC_RAW_GSENSOR_FRONT           = 0x1c
)

// Normalized orientations emitted by the gravity hook in place of the raw
// samples above. Values follow the framebuffer rotation convention.
const (
	OrientationUpright int32 = iota
	OrientationClockwise
	OrientationUpsideDown
	OrientationCounterClockwise
)
