package export

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/openbdc/broadbandsync/pkg/httpx"
	"github.com/openbdc/broadbandsync/pkg/publish"
)

// Handler handles backup and restore HTTP endpoints.
type Handler struct {
	exporter *Exporter
	importer *Importer
}

// NewHandler creates a new export/import handler.
func NewHandler(reader FeatureReader, svc publish.FeatureService) *Handler {
	return &Handler{
		exporter: NewExporter(reader),
		importer: NewImporter(svc),
	}
}

// HandleExport handles GET /v1/export.
// Query params:
//   - layer: layer to export (required)
//   - format: "json" or "csv" (default: json)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	layer := query.Get("layer")
	if layer == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "layer parameter is required")
		return
	}

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "format must be 'json' or 'csv'")
		return
	}

	timestamp := time.Now().Format("20060102-150405")
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%s-%s.json", layer, timestamp))
	} else {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%s-%s.csv", layer, timestamp))
	}

	ctx := r.Context()
	var result *Result
	var err error

	if format == "json" {
		result, err = h.exporter.ExportToJSON(ctx, w, layer)
	} else {
		result, err = h.exporter.ExportToCSV(ctx, w, layer)
	}
	if err != nil {
		log.Printf("Export failed: %v", err)
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	log.Printf("Exported %d features from layer %s (%s)", result.FeaturesExported, layer, format)
}

// HandleImport handles POST /v1/import.
// Query params:
//   - layer: target layer (default: the layer named in the backup metadata)
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != "application/json" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	result, err := h.importer.ImportFromJSON(r.Context(), r.Body, r.URL.Query().Get("layer"))
	if err != nil {
		log.Printf("Import failed: %v", err)
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if len(result.Errors) > 0 {
		log.Printf("Import completed with %d validation errors", len(result.Errors))
	}
	log.Printf("Imported %d features into layer %s", result.FeaturesImported, result.Layer)

	httpx.RespondJSON(w, http.StatusOK, result)
}
