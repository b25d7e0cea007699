package service

import (
	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/hashing"
	"verification-service/internal/metrics"
	"verification-service/internal/models"
	"verification-service/internal/util"
)

// ServiceFactory wires the three services over shared stores and
// collaborators and hands out the singletons.
type ServiceFactory struct {
	codeService    *CodeService
	accountService *AccountService
	gateService    *GateService
}

func NewServiceFactory(
	accounts models.AccountStore,
	codes models.CodeStore,
	sessions models.SessionStore,
	hasher *hashing.Hasher,
	notifier models.Notifier,
	attempts models.AttemptCounter,
	audit models.AuditSink,
	collector *metrics.Collector,
	cfg *config.Config,
	logger *zap.Logger,
) *ServiceFactory {
	codeService := NewCodeService(codes, hasher, notifier, attempts, audit, collector, cfg)

	f := &ServiceFactory{
		codeService:    codeService,
		accountService: NewAccountService(accounts, codeService, audit, collector),
		gateService:    NewGateService(sessions, audit, collector, cfg),
	}

	util.Info("Services initialized",
		zap.String("phone_mode", cfg.Codes.PhoneMode),
		zap.Bool("master_enabled", cfg.Codes.MasterEnabled))

	return f
}

func (f *ServiceFactory) CodeService() *CodeService {
	return f.codeService
}

func (f *ServiceFactory) AccountService() *AccountService {
	return f.accountService
}

func (f *ServiceFactory) GateService() *GateService {
	return f.gateService
}
