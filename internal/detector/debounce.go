package detector

import "time"

// Debounce 条件持续 Window 后确认一次；确认时把起始标记移到确认时刻，
// 条件仍持续则下一个窗口再次确认。条件消失回到 idle。
type Debounce struct {
	Window time.Duration

	state State
	since time.Time
}

func NewDebounce(window time.Duration) *Debounce {
	return &Debounce{Window: window, state: StateIdle}
}

// Update 输入当前条件是否成立，返回是否确认以及本次确认覆盖的持续时长
func (d *Debounce) Update(active bool, at time.Time) (bool, time.Duration) {
	if !active {
		d.Reset()
		return false, 0
	}

	if d.state == StateIdle {
		d.state = StatePending
		d.since = at
		return false, 0
	}

	held := at.Sub(d.since)
	if held >= d.Window {
		d.state = StateConfirmed
		d.since = at
		return true, held
	}
	return false, 0
}

func (d *Debounce) Reset() {
	d.state = StateIdle
	d.since = time.Time{}
}

func (d *Debounce) State() State {
	if d.state == "" {
		return StateIdle
	}
	return d.state
}
