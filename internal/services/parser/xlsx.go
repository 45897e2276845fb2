package parser

import (
	"github.com/tealeg/xlsx/v2"
)

// readXLSX reads the first sheet of a modern spreadsheet into a string grid
func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "corrupt xlsx", Err: err}
	}

	if len(f.Sheets) == 0 {
		return nil, &ParseError{Path: path, Reason: "xlsx has no sheets"}
	}

	sheet := f.Sheets[0]
	grid := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		grid = append(grid, cells)
	}

	return grid, nil
}
