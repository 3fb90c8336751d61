// 监考运维脚本
//
// 默认: 手动触发超时考试的自动交卷。该功能已集成到主应用的后台任务中
// （按 proctoring.sweep_interval 周期执行），此处用于服务长时间停机后补交到期的考试。
//
// -seed-demo: 写入一套演示数据（监考老师、考生、一场 active 试卷并完成分配），
// 便于本地联调实时通道与计时。
//
// 用法: go run scripts/proctor_ops.go [-seed-demo]

package main

import (
	"context"
	"exam_proctor_backend/internal/config"
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/internal/repository"
	"exam_proctor_backend/internal/service"
	"exam_proctor_backend/pkg/database"
	"exam_proctor_backend/pkg/logger"
	"flag"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

func main() {
	seedDemo := flag.Bool("seed-demo", false, "写入演示数据")
	flag.Parse()

	data, err := os.ReadFile("configs/config.yaml")
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}
	if cfg.Proctoring.Validate() != nil {
		cfg.Proctoring = config.DefaultProctoring()
	}

	if err := logger.InitLogger(&cfg); err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, *seedDemo)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	settings := service.NewProctorSettings(cfg.Proctoring)
	users := repository.NewUserRepository(db)
	exams := repository.NewExamRepository(db)
	candidates := repository.NewCandidateRepository(db)
	proctor := service.NewProctorService(repository.NewProctorLogRepository(db), candidates, nil, settings)
	sessions := service.NewSessionService(exams, candidates, repository.NewResponseRepository(db), proctor, settings)
	defer sessions.Timer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if *seedDemo {
		runSeedDemo(ctx, &cfg, users, exams, service.NewAdminService(sessions, users))
		return
	}

	log.Println("手动触发超时考试自动交卷...")
	n, err := sessions.SweepExpired(ctx)
	if err != nil {
		log.Fatalf("扫描失败: %v", err)
	}
	log.Printf("完成！共自动交卷 %d 份", n)
}

func runSeedDemo(ctx context.Context, cfg *config.Config, users *repository.UserRepository, exams *repository.ExamRepository, admin *service.AdminService) {
	auth := service.NewAuthService(users, cfg)

	teacher := &model.User{Name: "Demo Proctor", Email: "proctor@example.com", Password: "proctor123", Role: model.RoleTeacher}
	candidate := &model.User{Name: "Demo Candidate", Email: "candidate@example.com", Password: "candidate123", Role: model.RoleCandidate}
	for _, u := range []*model.User{teacher, candidate} {
		if err := auth.Register(ctx, u); err != nil {
			log.Fatalf("创建用户 %s 失败: %v", u.Email, err)
		}
	}

	exam := &model.Exam{
		Title:              "Demo Exam",
		Duration:           30,
		QuestionCount:      3,
		ShowResults:        model.ShowResultsImmediate,
		Status:             model.ExamActive,
		ProctoringMode:     model.ProctoringNegativeMarking,
		EnableWebcam:       true,
		EnableTabDetection: true,
	}
	questions := []model.Question{
		{Type: model.MultipleChoice, Content: "Which keyword starts a goroutine?", Options: []string{"go", "defer", "async", "spawn"}, CorrectAnswer: "go"},
		{Type: model.TrueFalse, Content: "A nil map can be read from.", Options: []string{"True", "False"}, CorrectAnswer: "True"},
		{Type: model.MultipleChoice, Content: "Which package provides WaitGroup?", Options: []string{"sync", "context", "runtime", "os"}, CorrectAnswer: "sync"},
		{Type: model.MultipleChoice, Content: "len of \"héllo\" in bytes?", Options: []string{"5", "6", "4", "7"}, CorrectAnswer: "6"},
		{Type: model.TrueFalse, Content: "Closing a closed channel panics.", Options: []string{"True", "False"}, CorrectAnswer: "True"},
	}
	if err := exams.CreateExam(ctx, exam, questions); err != nil {
		log.Fatalf("创建试卷失败: %v", err)
	}

	c, err := admin.Assign(ctx, exam.ID, service.AssignRequest{UserID: candidate.ID})
	if err != nil {
		log.Fatalf("分配考生失败: %v", err)
	}
	log.Printf("演示数据已写入: exam=%s candidate=%s (登录 %s / candidate123)", exam.ID, c.ID, candidate.Email)
}
