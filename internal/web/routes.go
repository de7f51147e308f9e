package web

import (
	"VideoScan-pipeline/internal/storage"
	"VideoScan-pipeline/internal/web/handlers"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Dependencies 是 HTTP 路由需要的所有元件；Fetcher 為 nil 時不提供 /api/fetch
type Dependencies struct {
	DB        handlers.RecordReader
	Artifacts storage.ArtifactStore
	Trigger   *handlers.PipelineTrigger
	Fetcher   handlers.VideoFetcher
}

// SetupRouter 建立 operator 使用的 HTTP 路由
func SetupRouter(deps Dependencies) http.Handler {
	if deps.DB == nil || deps.Artifacts == nil || deps.Trigger == nil {
		log.Panicln("SetupRouter：DB、Artifacts 與 Trigger 不得為空")
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	records := handlers.NewRecordsHandler(deps.DB, deps.Artifacts)
	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/videos/{videoID}/pipeline", handlers.NewTriggerPipelineHandler(deps.DB, deps.Trigger))
		r.Get("/videos/{videoID}/records", records.Records)
		r.Get("/videos/{videoID}/report", records.Report)
		r.Method(http.MethodGet, "/export", handlers.NewExportHandler(deps.DB))
		if deps.Fetcher != nil {
			r.Method(http.MethodPost, "/fetch", handlers.NewFetchHandler(deps.Fetcher, deps.Trigger))
		} else {
			log.Println("警告：未設定下載器，/api/fetch 不會提供。")
		}
	})

	r.Method(http.MethodGet, "/media/*", handlers.NewMediaHandler(deps.Artifacts))

	log.Println("資訊：HTTP 路由設定完成。")
	return r
}
