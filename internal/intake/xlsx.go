package intake

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/site-scorer/internal/model"
)

// readXLSX returns every row of the first sheet as strings.
func readXLSX(ctx context.Context, r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: read upload")
	}

	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, model.NewError(model.KindInvalidInput, "xlsx: open workbook", err)
	}
	if len(f.Sheets) == 0 {
		return nil, model.NewError(model.KindInvalidInput, "xlsx: workbook has no sheets", nil)
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
