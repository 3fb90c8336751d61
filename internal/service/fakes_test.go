package service

import (
	"context"
	"exam_proctor_backend/internal/config"
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/internal/util"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// memStore 内存实现的全部存储接口，条件更新语义与 gorm 实现一致
type memStore struct {
	mu         sync.Mutex
	exams      map[string]*model.Exam
	questions  map[string][]model.Question
	links      map[string][]model.ExamQuestion
	candidates map[string]*model.Candidate
	responses  map[string]map[string]*model.Response
	logs       []model.ProctorLog
	users      map[uint]*model.User
	now        func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		exams:      make(map[string]*model.Exam),
		questions:  make(map[string][]model.Question),
		links:      make(map[string][]model.ExamQuestion),
		candidates: make(map[string]*model.Candidate),
		responses:  make(map[string]map[string]*model.Response),
		users:      make(map[uint]*model.User),
		now:        now,
	}
}

func (m *memStore) addExam(e *model.Exam, pool []model.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = e
	m.questions[e.ID] = pool
	links := make([]model.ExamQuestion, len(pool))
	for i, q := range pool {
		links[i] = model.ExamQuestion{ExamID: e.ID, QuestionID: q.ID, Order: i}
	}
	m.links[e.ID] = links
}

func (m *memStore) FindExamByID(ctx context.Context, id string) (*model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return nil, util.ErrExamNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) ListExamQuestions(ctx context.Context, examID string) ([]model.Question, []model.ExamQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qs := append([]model.Question(nil), m.questions[examID]...)
	// 倒序返回，验证服务层按 order 重新排列
	for i, j := 0, len(qs)-1; i < j; i, j = i+1, j-1 {
		qs[i], qs[j] = qs[j], qs[i]
	}
	return qs, append([]model.ExamQuestion(nil), m.links[examID]...), nil
}

func (m *memStore) FindCandidateByID(ctx context.Context, id string) (*model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return nil, util.ErrCandidateNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) FindCandidateByUserAndExam(ctx context.Context, userID uint, examID string) (*model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.candidates {
		if c.UserID == userID && c.ExamID == examID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, util.ErrCandidateNotFound
}

func (m *memStore) CreateCandidate(ctx context.Context, c *model.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	cp := *c
	m.candidates[c.ID] = &cp
	return nil
}

func (m *memStore) MarkStarted(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok || c.Status != model.CandidateAssigned {
		return false, nil
	}
	c.Status = model.CandidateInProgress
	c.StartedAt = &at
	return true, nil
}

func (m *memStore) MarkFinished(ctx context.Context, id string, status model.CandidateStatus, score int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok || c.Status != model.CandidateInProgress {
		return false, nil
	}
	c.Status = status
	c.Score = &score
	c.CompletedAt = &at
	return true, nil
}

func (m *memStore) ResetForRetake(ctx context.Context, id string, seed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok || !c.Status.Finished() {
		return util.ErrRetakeNotAllowed
	}
	delete(m.responses, id)
	c.Status = model.CandidateAssigned
	c.Attempt++
	c.RandomSeed = seed
	c.StartedAt = nil
	c.CompletedAt = nil
	c.Score = nil
	return nil
}

func (m *memStore) ListCandidatesByExam(ctx context.Context, examID string) ([]model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Candidate
	for _, c := range m.candidates {
		if c.ExamID == examID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListInProgress(ctx context.Context) ([]model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Candidate
	for _, c := range m.candidates {
		if c.Status == model.CandidateInProgress {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpsertResponse(ctx context.Context, r *model.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byQuestion, ok := m.responses[r.CandidateID]
	if !ok {
		byQuestion = make(map[string]*model.Response)
		m.responses[r.CandidateID] = byQuestion
	}
	r.UpdatedAt = m.now()
	if existing, ok := byQuestion[r.QuestionID]; ok {
		existing.SelectedAnswer = r.SelectedAnswer
		existing.IsCorrect = r.IsCorrect
		existing.UpdatedAt = r.UpdatedAt
		return nil
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	cp := *r
	byQuestion[r.QuestionID] = &cp
	return nil
}

func (m *memStore) ListResponses(ctx context.Context, candidateID string) ([]model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Response, 0, len(m.responses[candidateID]))
	for _, r := range m.responses[candidateID] {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (m *memStore) AppendLog(ctx context.Context, l *model.ProctorLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = uint(len(m.logs) + 1)
	m.logs = append(m.logs, *l)
	return nil
}

func (m *memStore) ListLogs(ctx context.Context, candidateID string) ([]model.ProctorLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ProctorLog
	for _, l := range m.logs {
		if l.CandidateID == candidateID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) countLogs(candidateID string, typ model.ProctorEventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.logs {
		if l.CandidateID == candidateID && l.EventType == typ {
			n++
		}
	}
	return n
}

func (m *memStore) FindUserByID(ctx context.Context, id uint) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, util.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, util.ErrUserNotFound
}

func (m *memStore) CreateUser(ctx context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return util.ErrEmailTaken
		}
	}
	if u.ID == 0 {
		u.ID = uint(len(m.users) + 1)
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func samplePool() []model.Question {
	return []model.Question{
		{UUIDBase: model.UUIDBase{ID: "q1"}, Type: model.MultipleChoice, Content: "first letter", Options: []string{"A", "B", "C", "D"}, CorrectAnswer: "A"},
		{UUIDBase: model.UUIDBase{ID: "q2"}, Type: model.TrueFalse, Content: "go has generics", Options: []string{"True", "False"}, CorrectAnswer: "True"},
		{UUIDBase: model.UUIDBase{ID: "q3"}, Type: model.MultipleChoice, Content: "colour of the sky", Options: []string{"red", "green", "blue", "yellow"}, CorrectAnswer: "blue"},
		{UUIDBase: model.UUIDBase{ID: "q4"}, Type: model.MultipleChoice, Content: "2 + 2", Options: []string{"1", "2", "3", "4"}, CorrectAnswer: "4"},
		{UUIDBase: model.UUIDBase{ID: "q5"}, Type: model.MultipleChoice, Content: "last letter", Options: []string{"x", "y", "z"}, CorrectAnswer: "z"},
	}
}

type fixture struct {
	store    *memStore
	clock    *fakeClock
	settings *ProctorSettings
	hub      *ProctorHub
	proctor  *ProctorService
	sessions *SessionService
	admin    *AdminService
	exam     *model.Exam
	owner    Viewer
}

const (
	ownerID    uint = 10
	strangerID uint = 11
	teacherID  uint = 20
)

// newFixture 一场 60 分钟、抽 2 题的考试，以及一个已分配、种子为 abc123 的考生
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: t0}
	store := newMemStore(clock.Now)
	settings := NewProctorSettings(config.DefaultProctoring())
	hub := NewProctorHub(nil)
	proctor := NewProctorService(store, store, hub, settings)
	proctor.now = clock.Now
	sessions := NewSessionService(store, store, store, proctor, settings)
	sessions.now = clock.Now
	t.Cleanup(func() {
		sessions.Timer.Stop()
		hub.Stop()
	})

	exam := &model.Exam{
		UUIDBase:           model.UUIDBase{ID: "exam-1"},
		Title:              "Go basics",
		Duration:           60,
		QuestionCount:      2,
		ShowResults:        model.ShowResultsImmediate,
		Status:             model.ExamActive,
		ProctoringMode:     model.ProctoringStandard,
		EnableWebcam:       true,
		EnableTabDetection: true,
	}
	store.addExam(exam, samplePool())
	store.users[ownerID] = &model.User{BaseModel: model.BaseModel{ID: ownerID}, Email: "cand@example.com", Role: model.RoleCandidate}
	store.users[strangerID] = &model.User{BaseModel: model.BaseModel{ID: strangerID}, Email: "other@example.com", Role: model.RoleCandidate}
	store.users[teacherID] = &model.User{BaseModel: model.BaseModel{ID: teacherID}, Email: "teacher@example.com", Role: model.RoleTeacher}
	store.candidates["cand-1"] = &model.Candidate{
		UUIDBase:   model.UUIDBase{ID: "cand-1"},
		UserID:     ownerID,
		ExamID:     exam.ID,
		RandomSeed: "abc123",
		Status:     model.CandidateAssigned,
		Attempt:    1,
	}

	return &fixture{
		store:    store,
		clock:    clock,
		settings: settings,
		hub:      hub,
		proctor:  proctor,
		sessions: sessions,
		admin:    NewAdminService(sessions, store),
		exam:     exam,
		owner:    Viewer{UserID: ownerID, Role: model.RoleCandidate},
	}
}

func (f *fixture) start(t *testing.T) *SessionView {
	t.Helper()
	view, err := f.sessions.Start(context.Background(), f.owner, "cand-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return view
}

func (f *fixture) answer(t *testing.T, questionID, answer string) {
	t.Helper()
	if _, err := f.sessions.SaveResponse(context.Background(), f.owner, "cand-1", SaveResponseRequest{QuestionID: questionID, SelectedAnswer: answer}); err != nil {
		t.Fatalf("SaveResponse(%s, %s) error = %v", questionID, answer, err)
	}
}
