package handler

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"kudos-api/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// writeExportXLSX renders an export as a workbook with one sheet for users
// and one for recognitions. Amounts are written as text to keep their exact
// decimal value.
func writeExportXLSX(w io.Writer, dump service.Export) error {
	f := excelize.NewFile()
	defer f.Close()

	users := [][]any{{"account_id", "username", "balance", "created_at"}}
	for _, u := range dump.Users {
		users = append(users, []any{u.AccountID, u.Username, u.Balance.StringFixed(2), u.CreatedAt.Format(time.RFC3339)})
	}

	recs := [][]any{{"id", "giver_id", "receiver_id", "amount", "message", "tags", "scope", "kind", "created_at"}}
	for _, r := range dump.Recognitions {
		recs = append(recs, []any{
			r.ID, r.GiverID, r.ReceiverID, r.Amount.StringFixed(2), r.Message,
			strings.Join(r.Tags, " "), r.Scope, string(r.Kind), r.CreatedAt.Format(time.RFC3339),
		})
	}

	if err := f.SetSheetName("Sheet1", "users"); err != nil {
		return err
	}
	if err := writeSheet(f, "users", users); err != nil {
		return err
	}
	if _, err := f.NewSheet("recognitions"); err != nil {
		return err
	}
	if err := writeSheet(f, "recognitions", recs); err != nil {
		return err
	}

	return f.Write(w)
}

func writeSheet(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
