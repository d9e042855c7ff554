package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/zenocr/internal/config"
	"github.com/Lllllllleong/zenocr/internal/gcp"
	"github.com/Lllllllleong/zenocr/internal/services"
)

var (
	editorInstance *services.EditorFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("ZenOCREditor", handleEditor)
}

func main() {
	port := gcp.GetEnv("PORT", "8080")
	if err := funcframework.Start(port); err != nil {
		slog.Error("funcframework.Start failed", "error", err)
		os.Exit(1)
	}
}

// handleEditor lazily builds the editor on the first request. The editor
// keeps its document in memory, so the instance must outlive requests.
func handleEditor(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		var cfg *config.Config
		cfg, initErr = config.FromEnv()
		if initErr != nil {
			return
		}
		editorInstance, initErr = services.NewEditor(context.Background(), cfg)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	editorInstance.ServeHTTP(w, r)
}
