package app

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"etesti/internal/answer"
	"etesti/internal/app/apiresp"
	"etesti/internal/app/observability"
	"etesti/internal/auth"
	"etesti/internal/exam"
	"etesti/internal/masterdata"
	"etesti/internal/question"
	"etesti/internal/report"
	"etesti/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

// Deps carries the optional collaborators opened by main. Zero values fall
// back to the in-memory limiter, a disabled upload service and the Firebase
// verifier built from Config.
type Deps struct {
	Redis    *redis.Client
	Storage  *storage.Service
	Verifier auth.Verifier
}

func NewRouter(cfg Config, db *sql.DB, deps Deps) http.Handler {
	r := chi.NewRouter()
	metrics := observability.NewCollector(db)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(metrics.Middleware)
	r.Use(CORSMiddleware(cfg.CORSOrigin))
	r.Use(BodyLimitMiddleware(cfg.BodyLimitBytes))
	r.Use(CSRFMiddleware(cfg.CSRFEnforced))

	mailer := auth.NewSMTPMailer(auth.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	})

	verifier := deps.Verifier
	if verifier == nil {
		verifier = auth.NewFirebaseVerifier(auth.FirebaseConfig{
			ProjectID: cfg.FirebaseProjectID,
			CertsURL:  cfg.FirebaseCertsURL,
		})
		if verifier == nil {
			log.Printf("FIREBASE_PROJECT_ID not set, authenticated routes answer 503")
		}
	}
	authHandler := auth.NewHandler(verifier, auth.NewService(db, auth.ServiceConfig{Mailer: mailer}))

	storageSvc := deps.Storage
	if storageSvc == nil {
		storageSvc = storage.NewService(nil, "", cfg.StorageMaxImageSize)
	}

	answerSvc := answer.NewService(db)
	catalogHandler := masterdata.NewHandler(masterdata.NewService(db))
	examHandler := exam.NewHandler(exam.NewService(db, mailer))
	questionHandler := question.NewHandler(question.NewService(db))
	answerHandler := answer.NewHandler(answerSvc)
	reportHandler := report.NewHandler(report.NewService(db, answerSvc))
	uploadHandler := storage.NewHandler(storageSvc)

	apiLimiter, authLimiter := limiters(cfg, deps.Redis)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteOK(w, r, http.StatusOK, map[string]any{
			"status":    "OK",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.Get("/metrics", metrics.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(RateLimitMiddleware(apiLimiter, "api"))

		api.Get("/sectors", catalogHandler.ListSectors)
		api.Get("/sectors/{id}", catalogHandler.GetSector)
		api.Get("/sectors/{id}/subjects", catalogHandler.ListSectorSubjects)
		api.Get("/subjects", catalogHandler.ListSubjects)
		api.Get("/subjects/{id}", catalogHandler.GetSubject)
		api.Get("/subjects/sector/{sectorId}", catalogHandler.ListSectorSubjects)

		api.Get("/exams", examHandler.List)
		api.Get("/exams/sector/{sectorId}", examHandler.ListBySector)
		api.Get("/exams/{id}", examHandler.Get)
		api.Get("/exams/{id}/export", examHandler.Export)

		api.Get("/questions/exam/{examId}", questionHandler.ListByExam)
		api.Get("/questions/exam/{examId}/part/{part}", questionHandler.ListByExamPart)
		api.Get("/questions/exam/{examId}/subject/{subjectId}", questionHandler.ListBySubject)
		api.Get("/questions/{id}", questionHandler.Get)

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)

			secure.Group(func(profile chi.Router) {
				profile.Use(RateLimitMiddleware(authLimiter, "users"))
				profile.Post("/users/profile", authHandler.CreateProfile)
				profile.With(authHandler.RequireUser).Get("/users/profile", authHandler.GetProfile)
				profile.Put("/users/profile", authHandler.UpdateProfile)
				profile.Delete("/users/profile", authHandler.DeleteProfile)
			})

			secure.Group(func(user chi.Router) {
				user.Use(authHandler.RequireUser)

				user.Post("/sectors", catalogHandler.CreateSector)
				user.Put("/sectors/{id}", catalogHandler.UpdateSector)
				user.Delete("/sectors/{id}", catalogHandler.DeleteSector)
				user.Post("/subjects", catalogHandler.CreateSubject)
				user.Post("/subjects/import", catalogHandler.ImportSubjectsCSV)
				user.Put("/subjects/{id}", catalogHandler.UpdateSubject)
				user.Delete("/subjects/{id}", catalogHandler.DeleteSubject)

				user.Post("/exams", examHandler.Create)
				user.Post("/exams/complete", examHandler.CreateComplete)
				user.Post("/exams/import", examHandler.Import)
				user.Put("/exams/{id}", examHandler.Update)
				user.Delete("/exams/{id}", examHandler.Delete)
				user.Post("/exams/{id}/complete", examHandler.Complete)
				user.Post("/exams/{id}/reset", examHandler.Reset)

				user.Post("/questions", questionHandler.Create)
				user.Put("/questions/{id}", questionHandler.Update)
				user.Delete("/questions/{id}", questionHandler.Delete)

				user.Route("/user-answers", func(ua chi.Router) {
					ua.Use(RateLimitMiddleware(authLimiter, "user-answers"))
					ua.Post("/submit", answerHandler.Submit)
					ua.Get("/", answerHandler.List)
					ua.Get("/results/{examId}", answerHandler.Results)
					ua.Put("/{id}", answerHandler.Update)
					ua.Delete("/{id}", answerHandler.Withdraw)
				})

				user.Get("/reports/exams/{id}", reportHandler.Summary)

				user.Post("/uploads", uploadHandler.Upload)
				user.Get("/uploads", uploadHandler.List)
				user.Delete("/uploads", uploadHandler.Delete)
				user.Post("/uploads/signed-url", uploadHandler.SignedURL)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusNotFound, "Route "+r.URL.Path+" not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// limiters shares one Redis window across instances when a client is given.
func limiters(cfg Config, client *redis.Client) (Limiter, Limiter) {
	if client != nil {
		return NewRedisRateLimiter(client, "etesti:rl:api", cfg.RateLimitMax, cfg.RateLimitWindow),
			NewRedisRateLimiter(client, "etesti:rl:auth", cfg.AuthRateLimitMax, cfg.RateLimitWindow)
	}
	return NewIPRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		NewIPRateLimiter(cfg.AuthRateLimitMax, cfg.RateLimitWindow)
}
