package export

import (
	"strconv"
	"strings"

	"github.com/use-agent/rtcapture/models"
	"github.com/xuri/excelize/v2"
)

// textColumns hold free text even when a value happens to look numeric.
var textColumns = []string{"url", "slug", "timestamp", "media_type", "description", "image_url",
	"_sentiment", "_title", "_score_link_url", "_certified"}

func isTextColumn(col string) bool {
	for _, t := range textColumns {
		if col == t || (strings.HasPrefix(t, "_") && strings.HasSuffix(col, t)) {
			return true
		}
	}
	return false
}

// encodeXLSX renders the rows as a single-sheet workbook with a styled,
// frozen header row. Numeric columns are stored as numbers.
func encodeXLSX(sheet string, header []string, rows []models.ExportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if def := f.GetSheetName(0); def != sheet {
		if err := f.SetSheetName(def, sheet); err != nil {
			return nil, err
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 12},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}

	for col, name := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return nil, err
		}
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return nil, err
	}

	for r, row := range rows {
		for col, value := range row {
			if value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, cellValue(header[col], value)); err != nil {
				return nil, err
			}
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cellValue(col, value string) any {
	if isTextColumn(col) {
		return value
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n
	}
	return value
}
