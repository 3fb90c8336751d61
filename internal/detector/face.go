package detector

import "exam_proctor_backend/internal/model"

// FacePresence 无人脸持续 10s 记 face_absent，多张人脸持续 5s 记 multiple_faces
type FacePresence struct {
	degradable
	absent   *Debounce
	multiple *Debounce
}

func NewFacePresence(t Thresholds) *FacePresence {
	return &FacePresence{
		absent:   NewDebounce(t.FaceAbsentWindow),
		multiple: NewDebounce(t.MultipleFacesWindow),
	}
}

func (f *FacePresence) Kind() Kind { return KindFace }

func (f *FacePresence) Observe(s Sample) Result {
	if s.Unavailable {
		f.absent.Reset()
		f.multiple.Reset()
		if f.enter() {
			return Result{Warning: ErrSensorUnavailable}
		}
		return Result{}
	}
	f.recover()

	var res Result
	if ok, held := f.absent.Update(s.FaceCount == 0, s.At); ok {
		res.Events = append(res.Events, newEvent(model.EventFaceAbsent, s.At, model.FaceMetadata{
			Kind:       model.EventFaceAbsent,
			FaceCount:  0,
			DurationMs: held.Milliseconds(),
		}))
	}
	if ok, held := f.multiple.Update(s.FaceCount > 1, s.At); ok {
		res.Events = append(res.Events, newEvent(model.EventMultipleFaces, s.At, model.FaceMetadata{
			Kind:       model.EventMultipleFaces,
			FaceCount:  s.FaceCount,
			DurationMs: held.Milliseconds(),
		}))
	}
	return res
}

func (f *FacePresence) State() State {
	if f.degraded {
		return StateDegraded
	}
	return mostSevere(f.absent.State(), f.multiple.State())
}

func mostSevere(a, b State) State {
	rank := map[State]int{StateIdle: 0, StatePending: 1, StateConfirmed: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
