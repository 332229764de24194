package render

import (
	"github.com/jung-kurt/gofpdf"
)

func writePDF(g *Graph, path string) error {
	l := computeLayout(g)

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: float64(l.width), Ht: float64(l.height)},
	})
	pdf.SetTitle(g.Name, true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetTextColor(0x23, 0x2f, 0x3e)
	pdf.Text(margin, margin+14, g.Name)

	pdf.SetDrawColor(0x54, 0x6e, 0x7a)
	pdf.SetLineWidth(1)
	for _, e := range g.Edges {
		if e.From == e.To {
			continue
		}
		x1, y1, x2, y2 := l.anchors(e, g.Direction)
		pdf.Line(float64(x1), float64(y1), float64(x2), float64(y2))
		if e.Label != "" {
			pdf.SetFont("Helvetica", "", 7)
			pdf.Text(float64(x1+x2)/2, float64(y1+y2)/2-2, e.Label)
		}
	}

	pdf.SetDrawColor(0x23, 0x2f, 0x3e)
	pdf.SetFillColor(0xe8, 0xf0, 0xfe)
	for _, b := range l.boxes {
		pdf.Rect(float64(b.x), float64(b.y), boxWidth, boxHeight, "FD")
		if b.node.Kind != "" {
			pdf.SetFont("Helvetica", "I", 7)
			pdf.Text(float64(b.x+6), float64(b.y+14), b.node.Kind)
		}
		pdf.SetFont("Helvetica", "", 9)
		pdf.Text(float64(b.x+6), float64(b.y+boxHeight-10), nodeText(b.node))
	}

	return pdf.OutputFileAndClose(path)
}
