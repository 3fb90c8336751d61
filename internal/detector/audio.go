package detector

import "exam_proctor_backend/internal/model"

// AudioAnomaly 音量高于噪声阈值持续 3s 记 background_noise，低于静音下限持续 30s 记 voice_absence
type AudioAnomaly struct {
	degradable
	threshold float64
	floor     float64
	noise     *Debounce
	silence   *Debounce
}

func NewAudioAnomaly(t Thresholds) *AudioAnomaly {
	return &AudioAnomaly{
		threshold: t.NoiseThreshold,
		floor:     t.SilenceFloor,
		noise:     NewDebounce(t.NoiseWindow),
		silence:   NewDebounce(t.SilenceWindow),
	}
}

func (a *AudioAnomaly) Kind() Kind { return KindAudio }

func (a *AudioAnomaly) Observe(s Sample) Result {
	if s.Unavailable {
		a.noise.Reset()
		a.silence.Reset()
		if a.enter() {
			return Result{Warning: ErrSensorUnavailable}
		}
		return Result{}
	}
	a.recover()

	var res Result
	if ok, held := a.noise.Update(s.Amplitude > a.threshold, s.At); ok {
		res.Events = append(res.Events, newEvent(model.EventBackgroundNoise, s.At, model.AudioMetadata{
			Kind:       model.EventBackgroundNoise,
			Amplitude:  s.Amplitude,
			DurationMs: held.Milliseconds(),
		}))
	}
	if ok, held := a.silence.Update(s.Amplitude < a.floor, s.At); ok {
		res.Events = append(res.Events, newEvent(model.EventVoiceAbsence, s.At, model.AudioMetadata{
			Kind:       model.EventVoiceAbsence,
			Amplitude:  s.Amplitude,
			DurationMs: held.Milliseconds(),
		}))
	}
	return res
}

func (a *AudioAnomaly) State() State {
	if a.degraded {
		return StateDegraded
	}
	return mostSevere(a.noise.State(), a.silence.State())
}
