package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/multistock/meli-bridge/internal/audit"
	"github.com/multistock/meli-bridge/internal/preset"
	"github.com/multistock/meli-bridge/internal/report"
	"github.com/multistock/meli-bridge/internal/warehouse"
	"github.com/multistock/meli-bridge/internal/woo"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

func handleCancelledOrders(agg *report.Aggregator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		year := time.Now().Year()
		if v := r.URL.Query().Get("year"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "year must be a number")
				return
			}
			year = parsed
		}

		entry := audit.Log(r.Context())
		entry.Report = "cancelled-orders"

		result, err := agg.CancelledOrdersForYear(r.Context(), year)
		if err != nil {
			status, message := errorStatus(err)
			log.Ctx(r.Context()).Info().Err(err).Msg("cancelled orders report failed")
			writeError(w, status, message)
			return
		}

		entry.Rows = len(result.OrdersByTenant)
		for tenant := range result.Skipped {
			entry.SkippedTenants = append(entry.SkippedTenants, tenant)
		}

		writeSuccess(w, "Cancelled orders retrieved for all companies.", map[string]any{
			"orders_by_company": result.OrdersByTenant,
			"total_cancelled":   result.TotalCancelled,
		})
	})
}

// resolveRefundFilter builds the refund filter from query parameters,
// expanding a preset reference first so explicit parameters win.
func resolveRefundFilter(r *http.Request, presets *preset.Store) (report.RefundFilter, error) {
	var filter report.RefundFilter

	query := r.URL.Query()

	if name := query.Get("preset"); name != "" {
		if presets == nil {
			return filter, preset.ErrNotFound
		}
		p, err := presets.Get(name)
		if err != nil {
			return filter, err
		}
		filter.DateFrom = p.DateFrom
		filter.DateTo = p.DateTo
		filter.Category = p.Category

		audit.Log(r.Context()).Preset = name
	}

	if v := query.Get("date_from"); v != "" {
		filter.DateFrom = v
	}
	if v := query.Get("date_to"); v != "" {
		filter.DateTo = v
	}
	if v := query.Get("category"); v != "" {
		filter.Category = v
	}

	return filter, nil
}

func handleRefundsByCategory(agg *report.Aggregator, presets *preset.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		tenantID := r.PathValue("tenant")

		entry := audit.Log(r.Context())
		entry.Report = "refunds-by-category"
		entry.TenantID = tenantID

		filter, err := resolveRefundFilter(r, presets)
		if err != nil {
			if errors.Is(err, preset.ErrNotFound) {
				writeError(w, http.StatusBadRequest, "unknown report preset")
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		refunds, err := agg.RefundsByCategory(r.Context(), tenantID, filter)
		if err != nil {
			status, message := errorStatus(err)
			log.Ctx(r.Context()).Info().Err(err).Msg("refund report failed")
			writeError(w, status, message)
			return
		}

		entry.Rows = len(refunds)

		writeSuccess(w, "Refunds by category retrieved successfully.", map[string]any{
			"data": refunds,
		})
	})
}

func handleUpcomingShipments(agg *report.Aggregator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		tenantID := r.PathValue("tenant")

		entry := audit.Log(r.Context())
		entry.Report = "upcoming-shipments"
		entry.TenantID = tenantID

		shipments, err := agg.UpcomingShipments(r.Context(), tenantID)
		if err != nil {
			status, message := errorStatus(err)
			log.Ctx(r.Context()).Info().Err(err).Msg("upcoming shipment report failed")
			writeError(w, status, message)
			return
		}

		entry.Rows = len(shipments)

		writeSuccess(w, "Orders with upcoming shipping dates retrieved successfully.", map[string]any{
			"data": shipments,
		})
	})
}

func handleDispatchLimit(agg *report.Aggregator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		tenantID := r.PathValue("tenant")

		entry := audit.Log(r.Context())
		entry.Report = "dispatch-limit"
		entry.TenantID = tenantID

		shipments, err := agg.DispatchLimitToday(r.Context(), tenantID)
		if err != nil {
			status, message := errorStatus(err)
			log.Ctx(r.Context()).Info().Err(err).Msg("dispatch limit report failed")
			writeError(w, status, message)
			return
		}

		entry.Rows = len(shipments)

		message := "Products with dispatch limit for today."
		if len(shipments) == 0 {
			message = "No shipments with a dispatch limit for today."
		}

		writeSuccess(w, message, map[string]any{
			"data": shipments,
		})
	})
}

// storeResolver resolves the storefront named by the store query
// parameter, falling back to the store configured in the environment when
// the parameter is omitted.
type storeResolver struct {
	stores   woo.StoreSource
	fallback *woo.Store
}

func (sr storeResolver) resolve(r *http.Request) (woo.Store, error) {
	raw := r.URL.Query().Get("store")
	if raw == "" {
		if sr.fallback != nil {
			return *sr.fallback, nil
		}
		return woo.Store{}, errors.New("store query parameter is required")
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return woo.Store{}, errors.New("store must be a numeric id")
	}

	store, err := sr.stores.FindStore(r.Context(), id)
	if err != nil {
		return woo.Store{}, err
	}

	audit.Log(r.Context()).StoreID = store.ID
	return store, nil
}

func handleWarehouseProducts(assignments warehouse.Store, stores storeResolver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		warehouseID, err := strconv.ParseInt(r.PathValue("warehouse"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "warehouse must be a numeric id")
			return
		}
		audit.Log(r.Context()).WarehouseID = warehouseID

		store, err := stores.resolve(r)
		if err != nil {
			status, message := storeErrorStatus(err)
			writeError(w, status, message)
			return
		}

		products, err := assignments.ProductsByWarehouse(r.Context(), warehouseID, store.ID)
		if err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("warehouse product listing failed")
			writeError(w, http.StatusInternalServerError, "could not list warehouse products")
			return
		}
		if products == nil {
			products = []warehouse.Assignment{}
		}

		audit.Log(r.Context()).Rows = len(products)

		writeSuccess(w, "Warehouse products retrieved successfully.", map[string]any{
			"products": products,
		})
	})
}

func handleImportAssignments(svc *warehouse.Service, stores storeResolver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		warehouseID, err := strconv.ParseInt(r.PathValue("warehouse"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "warehouse must be a numeric id")
			return
		}
		audit.Log(r.Context()).WarehouseID = warehouseID

		store, err := stores.resolve(r)
		if err != nil {
			status, message := storeErrorStatus(err)
			writeError(w, status, message)
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "a spreadsheet file upload is required")
			return
		}
		defer file.Close()

		result, err := svc.ImportAssignments(r.Context(), store, warehouseID, file)
		if err != nil {
			log.Ctx(r.Context()).Info().Err(err).Msg("bulk assignment import rejected")
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		audit.Log(r.Context()).Rows = len(result.Assigned)

		writeSuccess(w, "Bulk assignment processed.", map[string]any{
			"assigned":       result.Assigned,
			"errors":         result.Errors,
			"total_assigned": len(result.Assigned),
			"total_errors":   len(result.Errors),
		})
	})
}

func handleExportUnassigned(svc *warehouse.Service, stores storeResolver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		store, err := stores.resolve(r)
		if err != nil {
			status, message := storeErrorStatus(err)
			writeError(w, status, message)
			return
		}

		contents, err := svc.ExportUnassigned(r.Context(), store)
		if err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("unassigned product export failed")
			writeError(w, http.StatusInternalServerError, "could not export unassigned products")
			return
		}

		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="unassigned_products.xlsx"`)
		w.Header().Set("Cache-Control", "max-age=0")
		if _, err := w.Write(contents); err != nil {
			log.Ctx(r.Context()).Info().Err(err).Msg("failed to write spreadsheet response")
		}
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// writeSuccess writes the standard success envelope, merging the extra
// payload fields alongside status and message.
func writeSuccess(w http.ResponseWriter, message string, payload map[string]any) {
	body := map[string]any{
		"status":  "success",
		"message": message,
	}
	for k, v := range payload {
		body[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

// writeError writes the standard error envelope with the given status.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	body := map[string]any{
		"status":  "error",
		"message": message,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON error response: %v", err)
	}
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// storeErrorStatus maps storefront resolution failures.
func storeErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, woo.ErrStoreNotFound):
		return http.StatusNotFound, "store not found"
	case errors.Is(err, woo.ErrStoreDisabled):
		return http.StatusConflict, "store is disabled"
	default:
		return http.StatusBadRequest, err.Error()
	}
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
