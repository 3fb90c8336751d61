package service

import (
	"exam_proctor_backend/internal/config"
	"exam_proctor_backend/internal/detector"
	"sync"
)

// ProctorSettings 监考参数，配置文件变更时整体替换
type ProctorSettings struct {
	mu  sync.RWMutex
	cfg config.ProctoringConfig
}

func NewProctorSettings(cfg config.ProctoringConfig) *ProctorSettings {
	return &ProctorSettings{cfg: cfg}
}

func (s *ProctorSettings) Get() config.ProctoringConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set 校验失败时保留旧配置
func (s *ProctorSettings) Set(cfg config.ProctoringConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

func (s *ProctorSettings) Thresholds() detector.Thresholds {
	c := s.Get()
	return detector.Thresholds{
		FaceAbsentWindow:    c.FaceAbsentWindow,
		MultipleFacesWindow: c.MultipleFacesWindow,
		NoiseWindow:         c.NoiseWindow,
		SilenceWindow:       c.SilenceWindow,
		NoiseThreshold:      c.NoiseThreshold,
		SilenceFloor:        c.SilenceFloor,
	}
}
