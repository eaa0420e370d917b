package warehouse

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/multistock/meli-bridge/internal/woo"
)

const exportPageSize = 100

// Service runs the spreadsheet bulk flows against one storefront.
type Service struct {
	store  Store
	client woo.Client
}

func NewService(store Store, client woo.Client) *Service {
	return &Service{store: store, client: client}
}

// ExportUnassigned writes an .xlsx listing the storefront products that are
// not mapped to any warehouse. The catalog is walked page by page.
func (s *Service) ExportUnassigned(ctx context.Context, store woo.Store) ([]byte, error) {
	assigned, err := s.store.AssignedProductIDs(ctx, store.ID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	f.SetCellValue(sheet, "A1", "product_id")
	f.SetCellValue(sheet, "B1", "name")

	row := 2
	for page := 1; ; page++ {
		products, err := s.client.ListProducts(ctx, store, woo.ProductQuery{
			PerPage: exportPageSize,
			Page:    page,
		})
		if err != nil {
			return nil, fmt.Errorf("could not list products for store %d: %w", store.ID, err)
		}

		for _, p := range products {
			if assigned[p.ID] {
				continue
			}
			f.SetCellValue(sheet, fmt.Sprintf("A%d", row), p.ID)
			f.SetCellValue(sheet, fmt.Sprintf("B%d", row), p.Name)
			row++
		}

		if len(products) < exportPageSize {
			break
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("could not write spreadsheet: %w", err)
	}

	return buf.Bytes(), nil
}

// ImportResult summarizes a bulk assignment run. Row errors are collected
// individually; a malformed row never aborts the run.
type ImportResult struct {
	Assigned []Assignment `json:"assigned"`
	Errors   []RowError   `json:"errors"`
}

type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportAssignments reads an .xlsx of product_id/warehouse_id pairs and
// upserts each as an assignment, enriching rows from the storefront
// catalog. The header row is auto-detected as the first non-empty row; a
// row without a warehouse_id falls back to defaultWarehouse.
func (s *Service) ImportAssignments(ctx context.Context, store woo.Store, defaultWarehouse int64, r io.Reader) (ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("could not open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return ImportResult{}, fmt.Errorf("spreadsheet has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return ImportResult{}, fmt.Errorf("could not read sheet: %w", err)
	}

	headerIndex, productCol, warehouseCol, err := locateHeader(rows)
	if err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{Assigned: []Assignment{}, Errors: []RowError{}}

	for i := headerIndex + 1; i < len(rows); i++ {
		row := rows[i]
		rowNumber := i + 1

		productID, err := cellInt64(row, productCol)
		if err != nil {
			result.Errors = append(result.Errors, RowError{Row: rowNumber, Error: "missing or invalid product_id"})
			continue
		}

		warehouseID := defaultWarehouse
		if id, err := cellInt64(row, warehouseCol); err == nil {
			warehouseID = id
		} else if defaultWarehouse == 0 {
			result.Errors = append(result.Errors, RowError{Row: rowNumber, Error: "missing or invalid warehouse_id"})
			continue
		}

		product, err := s.client.Product(ctx, store, productID)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Int64("product", productID).Msg("product lookup failed during bulk assignment")
			result.Errors = append(result.Errors, RowError{Row: rowNumber, Error: err.Error()})
			continue
		}

		quantity := 0
		if product.StockQuantity != nil {
			quantity = *product.StockQuantity
		}

		assignment := Assignment{
			ProductID:   product.ID,
			WarehouseID: warehouseID,
			StoreID:     store.ID,
			Title:       product.Name,
			Price:       product.Price,
			Quantity:    quantity,
		}

		if err := s.store.Assign(ctx, assignment); err != nil {
			result.Errors = append(result.Errors, RowError{Row: rowNumber, Error: err.Error()})
			continue
		}

		result.Assigned = append(result.Assigned, assignment)
	}

	return result, nil
}

// locateHeader finds the first non-empty row and the product_id and
// warehouse_id column positions within it.
func locateHeader(rows [][]string) (headerIndex, productCol, warehouseCol int, err error) {
	productCol, warehouseCol = -1, -1

	for i, row := range rows {
		if rowEmpty(row) {
			continue
		}

		for col, name := range row {
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "product_id":
				productCol = col
			case "warehouse_id":
				warehouseCol = col
			}
		}

		if productCol < 0 {
			return 0, 0, 0, fmt.Errorf("spreadsheet header must contain a product_id column")
		}
		return i, productCol, warehouseCol, nil
	}

	return 0, 0, 0, fmt.Errorf("spreadsheet is empty")
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func cellInt64(row []string, col int) (int64, error) {
	if col < 0 || col >= len(row) {
		return 0, fmt.Errorf("column out of range")
	}
	return strconv.ParseInt(strings.TrimSpace(row[col]), 10, 64)
}
