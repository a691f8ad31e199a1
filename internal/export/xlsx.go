// Package export writes scoring results and district summaries to XLSX
// workbooks for offline analysis.
package export

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/upjong-lab/district-cli/internal/model"
	"github.com/upjong-lab/district-cli/internal/stats"
)

// WriteRanked writes the full ranked table to an XLSX file: one header
// row, then one row per entity with its raw metrics and composite score.
func WriteRanked(path string, result *model.RankedResult, columns []string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("ranking")
	if err != nil {
		return eris.Wrap(err, "export: add ranking sheet")
	}

	header := sheet.AddRow()
	header.AddCell().SetString("code")
	header.AddCell().SetString("name")
	for _, col := range columns {
		header.AddCell().SetString(col)
	}
	header.AddCell().SetString("score")

	for _, e := range result.All {
		row := sheet.AddRow()
		row.AddCell().SetString(e.Key)
		row.AddCell().SetString(e.Name)
		for _, col := range columns {
			row.AddCell().SetFloat(e.Metrics[col])
		}
		row.AddCell().SetFloat(e.Score)
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

// WriteSummary writes a district statistics summary as a workbook with
// one sheet per statistic group.
func WriteSummary(path string, sum *stats.Summary) error {
	f := xlsx.NewFile()

	if err := overviewSheet(f, sum); err != nil {
		return err
	}
	if err := openCloseSheet(f, sum); err != nil {
		return err
	}
	if err := storeSheet(f, sum); err != nil {
		return err
	}
	if err := zoneSheet(f, sum); err != nil {
		return err
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func overviewSheet(f *xlsx.File, sum *stats.Summary) error {
	sheet, err := f.AddSheet("overview")
	if err != nil {
		return eris.Wrap(err, "export: add overview sheet")
	}

	addPair := func(label string, value float64) {
		row := sheet.AddRow()
		row.AddCell().SetString(label)
		row.AddCell().SetFloat(value)
	}

	row := sheet.AddRow()
	row.AddCell().SetString("region")
	row.AddCell().SetString(fmt.Sprintf("%s (%s)", sum.RegionName, sum.RegionCode))

	addPair("floating_population", sum.Population.Floating)
	addPair("residential_population", sum.Population.Residential)
	addPair("working_population", sum.Population.Working)
	addPair("survival_rate_1yr", sum.Survival.OneYear)
	addPair("survival_rate_3yr", sum.Survival.ThreeYear)
	addPair("survival_rate_5yr", sum.Survival.FiveYear)
	addPair("rent_first_floor", sum.Rent.FirstFloor)
	addPair("rent_other_floors", sum.Rent.OtherFloors)
	return nil
}

func openCloseSheet(f *xlsx.File, sum *stats.Summary) error {
	sheet, err := f.AddSheet("open_close")
	if err != nil {
		return eris.Wrap(err, "export: add open_close sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"year", "num_open", "num_close"} {
		header.AddCell().SetString(h)
	}
	for _, oc := range sum.OpenClose {
		row := sheet.AddRow()
		row.AddCell().SetInt(oc.Year)
		row.AddCell().SetInt(oc.NumOpen)
		row.AddCell().SetInt(oc.NumClose)
	}
	return nil
}

func storeSheet(f *xlsx.File, sum *stats.Summary) error {
	sheet, err := f.AddSheet("stores")
	if err != nil {
		return eris.Wrap(err, "export: add stores sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"year", "total", "franchise", "non_franchise"} {
		header.AddCell().SetString(h)
	}
	for _, sc := range sum.Stores {
		row := sheet.AddRow()
		row.AddCell().SetInt(sc.Year)
		row.AddCell().SetInt(sc.Total)
		row.AddCell().SetInt(sc.Franchise)
		row.AddCell().SetInt(sc.NonFranchise)
	}
	return nil
}

func zoneSheet(f *xlsx.File, sum *stats.Summary) error {
	sheet, err := f.AddSheet("zones")
	if err != nil {
		return eris.Wrap(err, "export: add zones sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"zone_id", "zone_name", "weekday_per_store", "weekend_per_store", "avg_order_value", "top_day", "top_hour", "top_gender"} {
		header.AddCell().SetString(h)
	}
	for _, z := range sum.Zones {
		row := sheet.AddRow()
		row.AddCell().SetString(z.ZoneID)
		row.AddCell().SetString(z.ZoneName)
		row.AddCell().SetFloat(z.WeekdayPerStore)
		row.AddCell().SetFloat(z.WeekendPerStore)
		row.AddCell().SetFloat(z.AvgOrderValue)
		row.AddCell().SetString(topLabel(z.ByDay))
		row.AddCell().SetString(topLabel(z.ByHour))
		row.AddCell().SetString(topLabel(z.ByGender))
	}
	return nil
}

// topLabel returns the label with the highest value, or empty when the
// breakdown has no data.
func topLabel(b stats.Breakdown) string {
	best := ""
	bestV := 0.0
	for i, label := range b.Labels {
		if i < len(b.Values) && (best == "" || b.Values[i] > bestV) {
			best = label
			bestV = b.Values[i]
		}
	}
	return best
}
