package detector

import "exam_proctor_backend/internal/model"

// TabVisibility 页面从可见变为隐藏时立即记 tab_switch
type TabVisibility struct {
	hidden bool
	last   State
}

func NewTabVisibility() *TabVisibility {
	return &TabVisibility{last: StateIdle}
}

func (v *TabVisibility) Kind() Kind { return KindVisibility }

func (v *TabVisibility) Observe(s Sample) Result {
	if s.Unavailable {
		return Result{}
	}
	wasHidden := v.hidden
	v.hidden = s.Hidden
	if !s.Hidden {
		v.last = StateIdle
		return Result{}
	}
	v.last = StateConfirmed
	if wasHidden {
		return Result{}
	}
	at := s.At
	return Result{Events: []Event{newEvent(model.EventTabSwitch, s.At, model.VisibilityMetadata{HiddenAt: &at})}}
}

func (v *TabVisibility) State() State { return v.last }

// FullscreenGuard 退出全屏立即记 fullscreen_exit，并要求客户端重新进入全屏。
// 初始按已全屏处理，首个非全屏采样即视为退出。
type FullscreenGuard struct {
	fullscreen bool
}

func NewFullscreenGuard() *FullscreenGuard {
	return &FullscreenGuard{fullscreen: true}
}

func (g *FullscreenGuard) Kind() Kind { return KindFullscreen }

func (g *FullscreenGuard) Observe(s Sample) Result {
	if s.Unavailable {
		return Result{}
	}
	was := g.fullscreen
	g.fullscreen = s.Fullscreen
	if s.Fullscreen || !was {
		return Result{}
	}
	return Result{
		Events:  []Event{newEvent(model.EventFullscreenExit, s.At, model.FullscreenMetadata{Rerequested: true})},
		Actions: []Action{ActionRequestFullscreen},
	}
}

func (g *FullscreenGuard) State() State {
	if g.fullscreen {
		return StateIdle
	}
	return StateConfirmed
}
