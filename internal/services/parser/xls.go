package parser

import (
	"github.com/shakinm/xlsReader/xls"
)

// readXLS reads the first sheet of a legacy BIFF spreadsheet into a string
// grid. Toll portals in particular still serve these.
func readXLS(path string) ([][]string, error) {
	workbook, err := xls.OpenFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "corrupt xls", Err: err}
	}

	sheet, err := workbook.GetSheet(0)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "xls has no sheets", Err: err}
	}

	rows := sheet.GetNumberRows()
	grid := make([][]string, 0, rows)
	for i := 0; i < rows; i++ {
		row, err := sheet.GetRow(i)
		if err != nil {
			continue
		}
		cols := row.GetCols()
		cells := make([]string, len(cols))
		for j, col := range cols {
			cells[j] = col.GetString()
		}
		grid = append(grid, cells)
	}

	return grid, nil
}
