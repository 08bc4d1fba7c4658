package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"parkovka/internal/models"
)

// TableSource provides the rows of exportable tables.
type TableSource interface {
	GetTableNames(ctx context.Context) ([]string, error)
	GetTableData(ctx context.Context, tableName string) ([]map[string]any, []string, error)
	GetStats(ctx context.Context) (*models.Stats, error)
}

// Exporter builds an xlsx workbook with a summary sheet followed by one
// sheet per table.
type Exporter struct {
	source   TableSource
	location *time.Location
	logger   *zerolog.Logger
}

func NewExporter(source TableSource, location *time.Location, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	if location == nil {
		location = time.UTC
	}
	return &Exporter{source: source, location: location, logger: logger}
}

// Export writes the workbook to w.
func (e *Exporter) Export(ctx context.Context, w io.Writer) error {
	excel := NewExcelWriter()
	defer excel.Close()

	if err := e.writeSummary(ctx, excel); err != nil {
		return err
	}

	tables, err := e.source.GetTableNames(ctx)
	if err != nil {
		return fmt.Errorf("get table names: %w", err)
	}
	for _, table := range tables {
		data, columns, err := e.source.GetTableData(ctx, table)
		if err != nil {
			e.logger.Error().Err(err).Str("table", table).Msg("Failed to get table data")
			continue
		}
		if err := excel.AddSheet(table); err != nil {
			return err
		}
		if err := excel.WriteHeader(columns); err != nil {
			return err
		}
		for _, row := range data {
			values := make([]any, len(columns))
			for i, col := range columns {
				values[i] = e.cell(row[col])
			}
			if err := excel.WriteRow(values); err != nil {
				return fmt.Errorf("write %s row: %w", table, err)
			}
		}
		e.logger.Debug().Str("table", table).Int("rows", len(data)).Msg("Exported table")
	}

	if err := excel.Save(w); err != nil {
		return fmt.Errorf("save excel: %w", err)
	}
	return nil
}

func (e *Exporter) writeSummary(ctx context.Context, excel *ExcelWriter) error {
	st, err := e.source.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	if err := excel.AddSheet("summary"); err != nil {
		return err
	}
	if err := excel.WriteHeader([]string{"metric", "value"}); err != nil {
		return err
	}
	rows := [][]any{
		{"spots", st.Spots},
		{"users", st.Users},
		{"free_intervals", st.FreeIntervals},
		{"revenue", st.Revenue},
	}
	for _, s := range models.AllStatuses {
		rows = append(rows, []any{"bookings_" + string(s), st.ByStatus[s]})
	}
	for _, r := range rows {
		if err := excel.WriteRow(r); err != nil {
			return err
		}
	}
	return nil
}

// cell converts sqlite values to something excelize renders well.
func (e *Exporter) cell(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case time.Time:
		return x.In(e.location).Format("2006-01-02 15:04")
	default:
		return x
	}
}
