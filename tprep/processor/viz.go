package processor

import (
	"fmt"
	"image/color"
	"os"

	"github.com/ZanzyTHEbar/trainprep/tprep/dataset"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// histPalette colors one histogram per field, half-transparent so overlaid
// distributions stay readable.
var histPalette = []color.NRGBA{
	{R: 0xe4, G: 0x3f, B: 0x2e, A: 0x80},
	{R: 0x2e, G: 0x9e, B: 0x45, A: 0x80},
	{R: 0x2e, G: 0x5b, B: 0xd6, A: 0x80},
	{R: 0xe6, G: 0xb8, B: 0x22, A: 0x80},
	{R: 0xc2, G: 0x2e, B: 0xb5, A: 0x80},
}

// savePlotForFields renders token-length histograms for the given fields to
// dest. The default presentation overlays every field's histogram in a
// single figure (format chosen by dest's extension). When the configuration
// sets NCols > 1 and more than one field is plotted, one panel per field is
// tiled NCols per row into a PNG instead.
func (p *DatasetProcessor) savePlotForFields(fields []string, ds *dataset.Dataset, dest string) error {
	perField := make(map[string]plotter.Values, len(fields))
	for _, field := range fields {
		lengths, err := fieldLengths(field, ds)
		if err != nil {
			return err
		}
		perField[field] = plotter.Values(lengths)
	}

	if p.cfg != nil && p.cfg.NCols > 1 && len(fields) > 1 {
		return p.saveTiledPlot(fields, perField, dest)
	}
	return p.saveOverlaidPlot(fields, perField, dest)
}

func (p *DatasetProcessor) saveOverlaidPlot(fields []string, perField map[string]plotter.Values, dest string) error {
	fig := plot.New()
	fig.Title.Text = "Token Length Distribution"
	fig.X.Label.Text = "Token Length"
	fig.Y.Label.Text = "Frequency"
	fig.Legend.Top = true

	for i, field := range fields {
		h, err := plotter.NewHist(perField[field], p.bins)
		if err != nil {
			return fmt.Errorf("failed to build histogram for %q: %w", field, err)
		}
		h.FillColor = histPalette[i%len(histPalette)]
		fig.Add(h)
		fig.Legend.Add(field)
	}

	if err := fig.Save(10*vg.Inch, 5*vg.Inch, dest); err != nil {
		return fmt.Errorf("failed to save token length plot to %s: %w", dest, err)
	}
	p.logger.Info().Str("dest", dest).Msg("saved token length distribution plot")
	return nil
}

func (p *DatasetProcessor) saveTiledPlot(fields []string, perField map[string]plotter.Values, dest string) error {
	cols := p.cfg.NCols
	rows := (len(fields) + cols - 1) / cols

	plots := make([][]*plot.Plot, rows)
	for r := range plots {
		plots[r] = make([]*plot.Plot, cols)
	}
	for i, field := range fields {
		fig := plot.New()
		fig.Title.Text = field
		fig.X.Label.Text = "Token Length"
		fig.Y.Label.Text = "Frequency"
		h, err := plotter.NewHist(perField[field], p.bins)
		if err != nil {
			return fmt.Errorf("failed to build histogram for %q: %w", field, err)
		}
		h.FillColor = histPalette[i%len(histPalette)]
		fig.Add(h)
		plots[i/cols][i%cols] = fig
	}

	img := vgimg.New(vg.Length(cols)*5*vg.Inch, vg.Length(rows)*3*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: rows, Cols: cols,
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Millimeter, PadBottom: vg.Millimeter,
		PadLeft: vg.Millimeter, PadRight: vg.Millimeter,
	}
	canvases := plot.Align(plots, tiles, dc)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if plots[r][c] != nil {
				plots[r][c].Draw(canvases[r][c])
			}
		}
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create plot file %s: %w", dest, err)
	}
	defer f.Close()
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		return fmt.Errorf("failed to save token length plot to %s: %w", dest, err)
	}
	p.logger.Info().Str("dest", dest).Int("ncols", cols).Msg("saved token length distribution plot")
	return nil
}
