package app

import (
	"database/sql"
	"net/http"
	"time"

	"quizdesk/internal/app/observability"
	"quizdesk/internal/assessment"
	"quizdesk/internal/auth"
	"quizdesk/internal/mailer"
	"quizdesk/internal/question"
	"quizdesk/internal/report"
	"quizdesk/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	mail := mailer.New(mailer.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	})

	authSvc := auth.NewService(db, auth.ServiceConfig{
		SessionTTL: time.Duration(cfg.SessionTTLHours) * time.Hour,
		Mailer:     mail,
		BaseURL:    cfg.BaseURL,
	})
	authHandler := auth.NewHandler(authSvc)

	questionHandler := question.NewHandler(question.NewService(db))
	assessmentHandler := assessment.NewHandler(assessment.NewService(db, mail))
	sessionHandler := session.NewHandler(session.NewService(db))
	reportHandler := report.NewHandler(report.NewService(db))

	authLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))

		api.Group(func(public chi.Router) {
			public.Use(RateLimitMiddleware(authLimiter))
			public.Post("/auth/login", authHandler.Login)
			public.Post("/auth/forgot-password", authHandler.ForgotPassword)
			public.Post("/auth/reset-password", authHandler.ResetPassword)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Get("/assigned-tests", assessmentHandler.ListMyAssignedTests)
			secure.Post("/session/start", sessionHandler.StartSession)
			secure.Get("/session/{id}", sessionHandler.GetSession)
			secure.Post("/session/answer", sessionHandler.SaveAnswer)
			secure.Post("/session/submit", sessionHandler.SubmitSession)

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin))

				admin.Post("/admin/trainees", authHandler.CreateTrainee)
				admin.Get("/admin/trainees", authHandler.ListTrainees)
				admin.Delete("/admin/trainees/{id}", authHandler.DeleteTrainee)
				admin.Get("/admin/trainees/export", authHandler.ExportTraineesExcel)
				admin.Post("/admin/trainees/import", authHandler.ImportTraineesExcel)

				admin.Post("/admin/question-groups", questionHandler.CreateGroup)
				admin.Get("/admin/question-groups", questionHandler.ListGroups)
				admin.Delete("/admin/question-groups/{id}", questionHandler.DeleteGroup)
				admin.Get("/admin/question-groups/{id}/questions", questionHandler.ListQuestionsByGroup)
				admin.Post("/admin/quiz", questionHandler.CreateQuiz)
				admin.Delete("/admin/questions/{id}", questionHandler.DeleteQuestion)

				admin.Post("/admin/positions", assessmentHandler.CreatePosition)
				admin.Get("/admin/positions", assessmentHandler.ListPositions)
				admin.Delete("/admin/positions/{id}", assessmentHandler.DeletePosition)

				admin.Post("/admin/tests", assessmentHandler.CreateTest)
				admin.Get("/admin/tests", assessmentHandler.ListTests)
				admin.Delete("/admin/tests/{id}", assessmentHandler.DeleteTest)
				admin.Post("/admin/assigned-tests/{id}/decision", assessmentHandler.UpdateDecision)

				admin.Post("/admin/evaluate-answer", sessionHandler.EvaluateAnswer)
				admin.Post("/admin/evaluate-answers", sessionHandler.EvaluateAnswers)

				admin.Get("/admin/sessions", reportHandler.ListSubmittedSessions)
				admin.Get("/admin/sessions/{id}", reportHandler.SessionReviewDetail)
				admin.Get("/admin/tests/{id}/summary", reportHandler.SummaryByTest)
			})
		})
	})

	return r
}
