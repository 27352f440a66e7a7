package appbootstrap

import (
	"database/sql"

	"fathom-crm/api"
	"fathom-crm/config"
	"fathom-crm/core/auth"
	"fathom-crm/core/authz"
	"fathom-crm/core/automation"
	"fathom-crm/core/billing"
	"fathom-crm/core/retention"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

type runtimeComposition struct {
	serverDeps api.Deps
	retention  *retention.Job
	seeder     *seeder
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) *runtimeComposition {
	orgs := store.NewOrgsStore(db)
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	permissions := store.NewPermissionsStore(db)
	billingStore := store.NewBillingStore(db)
	leads := store.NewLeadsStore(db)
	automationStore := store.NewAutomationStore(db)
	settings := store.NewSettingsStore(db)
	activity := store.NewActivityStore(db)

	sessionManager := auth.NewSessionManager(sessions, cfg, logger)
	authzSvc := authz.NewService(permissions, activity, logger)
	gate := billing.NewGate(billingStore, orgs, logger)
	flowSender := automation.NewHTTPFlowSender(cfg.MessagingTimeout())
	executor := automation.NewExecutor(automationStore, leads, users, settings, activity, flowSender, cfg, logger)
	dispatcher := automation.NewDispatcher(automationStore, executor, logger)
	retentionJob := retention.NewJob(cfg, automationStore, activity, sessions, logger)

	return &runtimeComposition{
		serverDeps: api.Deps{
			Cfg:            cfg,
			Logger:         logger,
			Users:          users,
			Sessions:       sessions,
			Orgs:           orgs,
			Leads:          leads,
			Permissions:    permissions,
			Billing:        billingStore,
			Automation:     automationStore,
			Settings:       settings,
			Activity:       activity,
			SessionManager: sessionManager,
			Authz:          authzSvc,
			Gate:           gate,
			Dispatcher:     dispatcher,
		},
		retention: retentionJob,
		seeder:    newSeeder(cfg, orgs, users, permissions, billingStore, logger),
	}
}
