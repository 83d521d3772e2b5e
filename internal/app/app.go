package app

import (
	"context"
	"os"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	evbus "github.com/asaskevich/EventBus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/talkincode/lanprobe/config"
	"github.com/talkincode/lanprobe/internal/domain"
	"github.com/talkincode/lanprobe/internal/maintenance"
	"github.com/talkincode/lanprobe/internal/ouidb"
	"github.com/talkincode/lanprobe/internal/scanner"
	"github.com/talkincode/lanprobe/pkg/common"
)

type Application struct {
	appConfig     *config.AppConfig
	gormDB        *gorm.DB
	sched         *cron.Cron
	configManager *ConfigManager
	bus           evbus.Bus

	ouiStore    *ouidb.Store
	deviceRepo  *scanner.GormDeviceRepository
	historyRepo *scanner.GormHistoryRepository
	latencyRepo *scanner.GormLatencyRepository
	sweep       *scanner.SweepService
	queries     *scanner.QueryEngine
	maint       *maintenance.Service
}

// Ensure Application implements all interfaces
var (
	_ DBProvider            = (*Application)(nil)
	_ ConfigProvider        = (*Application)(nil)
	_ SettingsProvider      = (*Application)(nil)
	_ SchedulerProvider     = (*Application)(nil)
	_ ConfigManagerProvider = (*Application)(nil)
	_ AppContext            = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Init(cfg *config.AppConfig) {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	// Initialize zap logger
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	// Configure output paths
	zapConfig.OutputPaths = []string{"stdout"}
	if cfg.Logger.FileEnable {
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, cfg.Logger.Filename)
	}

	// Build logger with file rotation if enabled
	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	} else {
		logger, err = zapConfig.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic(err)
		}
	}

	zap.ReplaceGlobals(logger)

	// Initialize database connection
	a.gormDB = getDatabase(cfg.Database)
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	// Ensure database schema is migrated before loading configs
	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}

	// wait for database initialization to complete
	go func() {
		time.Sleep(3 * time.Second)
		a.checkSettings()
		a.checkSchedulers()
		a.checkOuiSeeds()
		if err := a.ouiStore.Reload(context.Background()); err != nil {
			zap.L().Warn("oui index reload failed", zap.Error(err))
		}
	}()

	// Initialize the configuration manager
	a.configManager = NewConfigManager(a.gormDB, DefaultSettingsCacheTTL)

	a.bus = evbus.New()
	a.initServices()

	a.initJob()
}

// initServices wires the discovery engine: probing, enrichment,
// reconciliation, queries and retention, all over the shared gorm handle.
func (a *Application) initServices() {
	scanCfg := a.appConfig.Scan

	a.ouiStore = ouidb.NewStore(a.gormDB)
	a.deviceRepo = scanner.NewGormDeviceRepository(a.gormDB)
	a.historyRepo = scanner.NewGormHistoryRepository(a.gormDB)
	a.latencyRepo = scanner.NewGormLatencyRepository(a.gormDB)

	recon := scanner.NewReconciler(a.deviceRepo, a.historyRepo, a.bus, common.SystemClock)

	enricher := scanner.NewEnricher(scanner.EnricherConfig{
		ResolveTimeout: time.Duration(scanCfg.ResolveTimeoutMs) * time.Millisecond,
		SnmpCommunity:  scanCfg.SnmpCommunity,
		PortCheck:      scanCfg.PortCheck,
	}, a.ouiStore)

	probeTimeout := time.Duration(scanCfg.ProbeTimeoutMs) * time.Millisecond
	var prober scanner.Prober
	if scanCfg.Prober == "library" {
		prober = scanner.NewLibraryProber(probeTimeout)
	} else {
		prober = scanner.NewPingProber(scanCfg.PingBinary, probeTimeout)
	}

	a.sweep = scanner.NewSweepService(prober, enricher, recon, a.deviceRepo,
		scanCfg.BatchSize, time.Duration(scanCfg.BatchDelayMs)*time.Millisecond)
	a.queries = scanner.NewQueryEngine(a.gormDB)
	a.maint = maintenance.NewService(a.gormDB, a.deviceRepo, a.historyRepo, a.latencyRepo, common.SystemClock)
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			err2, ok := err1.(error)
			if ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	if track {
		if err := a.gormDB.Debug().Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	} else {
		if err := a.gormDB.Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	}
	return nil
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

func (a *Application) InitDb() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
	err := a.gormDB.Migrator().AutoMigrate(domain.Tables...)
	if err != nil {
		zap.S().Error(err)
	}
}

// ConfigMgr returns the configuration manager
func (a *Application) ConfigMgr() *ConfigManager {
	return a.configManager
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

// Bus returns the in-process event bus
func (a *Application) Bus() evbus.Bus {
	return a.bus
}

// Sweeper returns the scan service
func (a *Application) Sweeper() *scanner.SweepService {
	return a.sweep
}

// Queries returns the device query engine
func (a *Application) Queries() *scanner.QueryEngine {
	return a.queries
}

// Maintenance returns the retention service
func (a *Application) Maintenance() *maintenance.Service {
	return a.maint
}

// OuiStore returns the vendor prefix index
func (a *Application) OuiStore() *ouidb.Store {
	return a.ouiStore
}

// LatencyRepo returns the latency measurement repository
func (a *Application) LatencyRepo() *scanner.GormLatencyRepository {
	return a.latencyRepo
}

// GetSettingsStringValue retrieves a string configuration value
func (a *Application) GetSettingsStringValue(category, key string) string {
	return a.configManager.GetString(category, key)
}

// GetSettingsInt64Value retrieves an int64 configuration value
func (a *Application) GetSettingsInt64Value(category, key string) int64 {
	return a.configManager.GetInt64(category, key)
}

// GetSettingsBoolValue retrieves a boolean configuration value
func (a *Application) GetSettingsBoolValue(category, key string) bool {
	return a.configManager.GetBool(category, key)
}

// SaveSettings saves configuration settings
func (a *Application) SaveSettings(settings map[string]interface{}) error {
	for key, val := range settings {
		category, name, ok := splitSettingKey(key)
		if !ok {
			zap.L().Warn("invalid setting key", zap.String("key", key))
			continue
		}
		if err := a.configManager.Set(category, name, toSettingString(val)); err != nil {
			return err
		}
	}
	return nil
}

// Start scheduler job runner
func (a *Application) StartBackgroundJobs(ctx context.Context) {
	a.StartSchedulerService(ctx)
}

// RunScan performs an on-demand range scan with options given as a loose map
// (scheduler config JSON, CLI flags and API payloads all land here).
func (a *Application) RunScan(ctx context.Context, rangeSpec string, optsMap map[string]interface{}) (*scanner.ScanStats, error) {
	opts, err := scanner.ScanOptionsFromMap(optsMap)
	if err != nil {
		return nil, err
	}
	return a.sweep.ScanRange(ctx, rangeSpec, opts)
}

// RunRefresh re-probes every known device without discovering new ones.
func (a *Application) RunRefresh(ctx context.Context) (*scanner.ScanStats, error) {
	return a.sweep.RefreshKnown(ctx, scanner.ScanOptions{Mode: scanner.ScanModeQuick})
}

// RunOuiUpdate refreshes the vendor registry from the IEEE download.
func (a *Application) RunOuiUpdate(ctx context.Context) (int, error) {
	url := a.GetSettingsStringValue("oui", "registry_url")
	if url == "" {
		url = ouidb.RegistryURL
	}
	return a.ouiStore.UpdateFromURL(ctx, url)
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}
	_ = zap.L().Sync()
}

// RunSchedulerNow triggers a scheduler execution immediately by ID
func (a *Application) RunSchedulerNow(id int64) error {
	var sched domain.NetScheduler
	if err := a.gormDB.First(&sched, id).Error; err != nil {
		return err
	}

	a.dispatchScheduler(&sched)

	// update last and next run
	now := time.Now()
	a.gormDB.Model(&domain.NetScheduler{}).Where("id = ?", sched.ID).Updates(map[string]interface{}{
		"last_run_at": now,
		"next_run_at": now.Add(time.Duration(sched.Interval) * time.Second),
	})
	return nil
}
