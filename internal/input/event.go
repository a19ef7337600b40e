package input

import "time"

// Event mirrors the kernel's struct input_event on 64-bit platforms:
// struct timeval time; __u16 type; __u16 code; __s32 value.
type Event struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// Time converts the kernel timestamp to wall-clock time. The result is
// only meaningful once the pipeline has settled the timestamp epoch.
func (ev Event) Time() time.Time {
	return time.Unix(ev.Sec, ev.Usec*1000)
}

func (ev *Event) stamp(t time.Time) {
	ev.Sec = t.Unix()
	ev.Usec = int64(t.Nanosecond() / 1000)
}

// IsKeyPress reports whether the event is a key-down for the given code.
func (ev Event) IsKeyPress(code uint16) bool {
	return ev.Type == EV_KEY && ev.Code == code && ev.Value == evValuePress
}

// IsKeyRelease reports whether the event is a key-up for the given code.
func (ev Event) IsKeyRelease(code uint16) bool {
	return ev.Type == EV_KEY && ev.Code == code && ev.Value == evValueRelease
}
