package ledger

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

func WriteCSV(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"index",
		"timestamp",
		"demand_kwh",
		"generation_kwh",
		"balance_kwh",
		"action",
		"charged_kwh",
		"discharged_kwh",
		"peer_sold_kwh",
		"peer_bought_kwh",
		"grid_export_kwh",
		"grid_import_kwh",
		"counterparty",
		"peer_price",
		"buy_grid_price",
		"sell_grid_price",
		"sdr",
		"peer_fresh",
		"currency_delta",
		"currency",
		"soc_start",
		"soc_end",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, e := range entries {
		row := []string{
			strconv.Itoa(e.Index),
			fmtTime(e.Timestamp),
			fmtFloat(e.DemandKWh),
			fmtFloat(e.GenerationKWh),
			fmtFloat(e.BalanceKWh),
			string(e.Action),
			fmtFloat(e.ChargedKWh),
			fmtFloat(e.DischargedKWh),
			fmtFloat(e.PeerSoldKWh),
			fmtFloat(e.PeerBoughtKWh),
			fmtFloat(e.GridExportKWh),
			fmtFloat(e.GridImportKWh),
			string(e.Counterparty),
			fmtFloat(e.PeerPrice),
			fmtFloat(e.BuyGridPrice),
			fmtFloat(e.SellGridPrice),
			fmtFloat(e.SDR),
			strconv.FormatBool(e.PeerFresh),
			fmtFloat(e.CurrencyDelta),
			fmtFloat(e.Currency),
			fmtFloat(e.SOCStart),
			fmtFloat(e.SOCEnd),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	return w.Error()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
