package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fathom-crm/api/handlers"
	"fathom-crm/config"
	"fathom-crm/core/auth"
	"fathom-crm/core/authz"
	"fathom-crm/core/automation"
	"fathom-crm/core/billing"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

type Server struct {
	cfg            *config.AppConfig
	logger         *utils.Logger
	users          store.UsersStore
	sessions       store.SessionsStore
	orgs           store.OrgsStore
	leads          store.LeadsStore
	permissions    store.PermissionsStore
	billingStore   store.BillingStore
	automation     store.AutomationStore
	settings       store.SettingsStore
	activity       store.ActivityStore
	sessionManager *auth.SessionManager
	authz          *authz.Service
	gate           *billing.Gate
	dispatcher     *automation.Dispatcher
}

type Deps struct {
	Cfg            *config.AppConfig
	Logger         *utils.Logger
	Users          store.UsersStore
	Sessions       store.SessionsStore
	Orgs           store.OrgsStore
	Leads          store.LeadsStore
	Permissions    store.PermissionsStore
	Billing        store.BillingStore
	Automation     store.AutomationStore
	Settings       store.SettingsStore
	Activity       store.ActivityStore
	SessionManager *auth.SessionManager
	Authz          *authz.Service
	Gate           *billing.Gate
	Dispatcher     *automation.Dispatcher
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:            d.Cfg,
		logger:         d.Logger,
		users:          d.Users,
		sessions:       d.Sessions,
		orgs:           d.Orgs,
		leads:          d.Leads,
		permissions:    d.Permissions,
		billingStore:   d.Billing,
		automation:     d.Automation,
		settings:       d.Settings,
		activity:       d.Activity,
		sessionManager: d.SessionManager,
		authz:          d.Authz,
		gate:           d.Gate,
		dispatcher:     d.Dispatcher,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.securityHeadersMiddleware)
	r.Use(s.loggingMiddleware)

	authHandler := handlers.NewAuthHandler(s.cfg, s.users, s.sessions, s.sessionManager, s.authz, s.gate, s.activity, s.logger)
	leadsHandler := handlers.NewLeadsHandler(s.cfg, s.leads, s.users, s.authz, s.dispatcher, s.activity, s.logger)
	workflowsHandler := handlers.NewWorkflowsHandler(s.automation, s.authz, s.activity, s.logger)
	permissionsHandler := handlers.NewPermissionsHandler(s.permissions, s.users, s.authz, s.activity, s.logger)
	usersHandler := handlers.NewUsersHandler(s.users, s.sessions, s.authz, s.activity, s.logger)
	billingHandler := handlers.NewBillingHandler(s.billingStore, s.orgs, s.gate, s.logger)

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(s.jsonMiddleware)
		apiRouter.Route("/auth", func(authRouter chi.Router) {
			authRouter.MethodFunc("POST", "/login", s.rateLimitMiddleware(authHandler.Login))
			authRouter.MethodFunc("POST", "/logout", s.withSession(authHandler.Logout))
			authRouter.MethodFunc("GET", "/me", s.withSession(authHandler.Me))
			authRouter.MethodFunc("POST", "/ping", s.withSession(authHandler.Ping))
			authRouter.MethodFunc("POST", "/change-password", s.withSession(authHandler.ChangePassword))
		})
		apiRouter.Route("/leads", func(leadsRouter chi.Router) {
			leadsRouter.MethodFunc("GET", "/", s.withSession(leadsHandler.List))
			leadsRouter.MethodFunc("POST", "/", s.withSession(s.requireKnob(authz.KnobManageLeads, leadsHandler.Create)))
			leadsRouter.MethodFunc("GET", "/{id:[0-9]+}", s.withSession(leadsHandler.Get))
			leadsRouter.MethodFunc("PUT", "/{id:[0-9]+}", s.withSession(s.requireKnob(authz.KnobManageLeads, leadsHandler.Update)))
			leadsRouter.MethodFunc("DELETE", "/{id:[0-9]+}", s.withSession(s.requireKnob(authz.KnobDeleteLeads, leadsHandler.Delete)))
			leadsRouter.MethodFunc("PATCH", "/{id:[0-9]+}/stage", s.withSession(s.requireKnob(authz.KnobManageLeads, leadsHandler.ChangeStage)))
			leadsRouter.MethodFunc("PATCH", "/{id:[0-9]+}/assign", s.withSession(s.requireKnob(authz.KnobManageLeads, leadsHandler.Assign)))
			leadsRouter.MethodFunc("GET", "/{id:[0-9]+}/notes", s.withSession(leadsHandler.ListNotes))
			leadsRouter.MethodFunc("POST", "/{id:[0-9]+}/notes", s.withSession(s.requireKnob(authz.KnobManageLeads, leadsHandler.AddNote)))
		})
		// Workflow management needs the manage_workflows knob and the
		// automation plan feature; both gates apply.
		apiRouter.Route("/workflows", func(wfRouter chi.Router) {
			guard := func(next http.HandlerFunc) http.HandlerFunc {
				return s.withSession(s.requireKnob(authz.KnobManageWorkflows, s.requirePlanFeature(authz.KnobAutomation, next)))
			}
			wfRouter.MethodFunc("GET", "/", guard(workflowsHandler.List))
			wfRouter.MethodFunc("POST", "/", guard(workflowsHandler.Create))
			wfRouter.MethodFunc("GET", "/{id:[0-9]+}", guard(workflowsHandler.Get))
			wfRouter.MethodFunc("PUT", "/{id:[0-9]+}", guard(workflowsHandler.Update))
			wfRouter.MethodFunc("DELETE", "/{id:[0-9]+}", guard(workflowsHandler.Delete))
			wfRouter.MethodFunc("PATCH", "/{id:[0-9]+}/active", guard(workflowsHandler.SetActive))
			wfRouter.MethodFunc("GET", "/{id:[0-9]+}/executions", guard(workflowsHandler.ListExecutions))
		})
		apiRouter.Route("/permissions", func(permRouter chi.Router) {
			permRouter.MethodFunc("GET", "/knobs", s.withSession(s.requireKnob(authz.KnobManagePermissions, permissionsHandler.ListKnobs)))
		})
		apiRouter.Route("/users", func(usersRouter chi.Router) {
			usersRouter.MethodFunc("GET", "/", s.withSession(s.requireKnob(authz.KnobManageUsers, usersHandler.List)))
			usersRouter.MethodFunc("PUT", "/{id:[0-9]+}", s.withSession(s.requireKnob(authz.KnobManageUsers, usersHandler.Update)))
			usersRouter.MethodFunc("GET", "/{id:[0-9]+}/permissions", s.withSession(s.requireKnob(authz.KnobManagePermissions, permissionsHandler.GetUserPermissions)))
			usersRouter.MethodFunc("PUT", "/{id:[0-9]+}/permissions", s.withSession(s.requireKnob(authz.KnobManagePermissions, permissionsHandler.PutUserPermissions)))
		})
		apiRouter.Route("/billing", func(billingRouter chi.Router) {
			billingRouter.MethodFunc("GET", "/", s.withSession(s.requireKnob(authz.KnobManageBilling, billingHandler.Overview)))
		})
	})
	r.MethodFunc("GET", "/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
