package app

import (
	"context"
	"exam_proctor_backend/internal/config"
	"exam_proctor_backend/internal/controller"
	"exam_proctor_backend/internal/repository"
	"exam_proctor_backend/internal/service"
	"exam_proctor_backend/pkg/configwatcher"
	"exam_proctor_backend/pkg/database"
	"exam_proctor_backend/pkg/logger"
	"exam_proctor_backend/pkg/monitoring"
	"exam_proctor_backend/pkg/security"
	"exam_proctor_backend/pkg/tracing"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const configDir = "configs"

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	ctx             context.Context
	cancel          context.CancelFunc
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user       *repository.UserRepository
	exam       *repository.ExamRepository
	candidate  *repository.CandidateRepository
	response   *repository.ResponseRepository
	proctorLog *repository.ProctorLogRepository
}

type services struct {
	settings *service.ProctorSettings
	auth     *service.AuthService
	hub      *service.ProctorHub
	proctor  *service.ProctorService
	session  *service.SessionService
	admin    *service.AdminService
	gateway  *service.ProctorGateway
}

type controllers struct {
	auth    *controller.AuthController
	session *controller.SessionController
	admin   *controller.AdminController
	proctor *controller.ProctorController
	health  *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:       repository.NewUserRepository(db),
		exam:       repository.NewExamRepository(db),
		candidate:  repository.NewCandidateRepository(db),
		response:   repository.NewResponseRepository(db),
		proctorLog: repository.NewProctorLogRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	s.settings = service.NewProctorSettings(cfg.Proctoring)
	s.auth = service.NewAuthService(repos.user, cfg)

	var relay service.Relay
	if rdb != nil {
		relay = service.NewRedisRelay(rdb)
	}
	s.hub = service.NewProctorHub(relay)
	go s.hub.Run()

	s.proctor = service.NewProctorService(repos.proctorLog, repos.candidate, s.hub, s.settings)
	s.session = service.NewSessionService(repos.exam, repos.candidate, repos.response, s.proctor, s.settings)
	if rdb != nil {
		s.session.Lock = service.NewRedisLock(rdb)
	}
	s.admin = service.NewAdminService(s.session, repos.user)
	s.gateway = service.NewProctorGateway(s.hub, s.session, s.proctor, cfg.CORS.AllowedOrigins)

	// 监考阈值随配置文件热更新，新连接使用新阈值
	a.RegisterConfigCallback(func(newCfg *config.Config) {
		if err := s.settings.Set(newCfg.Proctoring); err != nil {
			logger.Log.Error("invalid proctoring config, keeping previous values", zap.Error(err))
			return
		}
		logger.Log.Info("proctoring config reloaded")
	})

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:    controller.NewAuthController(s.auth),
		session: controller.NewSessionController(s.session, s.proctor),
		admin:   controller.NewAdminController(s.admin),
		proctor: controller.NewProctorController(s.gateway),
		health:  controller.NewHealthController(db, rdb, s.hub),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit, "/api/proctor/ws", "/metrics"))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) startBackgroundTasks(s *services) {
	// 到期自动交卷的兜底扫描，同时在重启后恢复定时器
	go s.session.RunSweeper(a.ctx)

	go func() {
		err := configwatcher.WatchConfig(a.ctx, filepath.Join(configDir, "config.yaml"), func(newCfg *config.Config) {
			for _, cb := range a.configCallbacks {
				cb(newCfg)
			}
		})
		if err != nil {
			logger.Log.Error("config watcher stopped", zap.Error(err))
		}
	}()
}

func NewApp(cfg *config.Config) *App {
	if err := logger.InitLogger(cfg); err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, cfg.ForceMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config: cfg,
		DB:     db,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.MigrateOnly {
		return app
	}

	if cfg.Redis.Enabled {
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		}
		app.Redis = rdb
	}

	if err := controller.RegisterValidators(); err != nil {
		logger.Log.Fatal("Failed to register validators", zap.Error(err))
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, app.Redis)
	app.services = services
	controllers := app.initControllers(services, db, app.Redis)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.registerRoutes(router, controllers, cfg)

	app.startBackgroundTasks(services)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	// 停止后台任务并断开所有实时连接
	a.cancel()
	if a.services != nil {
		a.services.hub.Stop()
		a.services.session.Timer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
