package pdf

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type MarotoProvider struct{}

func NewMaroto() *MarotoProvider {
	return &MarotoProvider{}
}

func (p *MarotoProvider) GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(30,
		text.NewCol(8, "Payment Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "Brightmont Academy", props.Text{
			Size:  10,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(25,
		col.New(6).Add(
			text.New("Payment reference: "+data.Reference, props.Text{Top: 0}),
			text.New("Date paid: "+data.DatePaid, props.Text{Top: 5}),
			text.New("Billed to: "+data.StudentEmail, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New(data.CourseTitle, props.Text{Style: fontstyle.Bold}),
			text.New(data.CohortName, props.Text{Top: 5}),
			text.New("Plan: "+data.Plan, props.Text{Top: 10}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, data.Total+" paid in full", props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(5, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Reference", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Paid on", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, line := range data.Lines {
		m.AddRow(12,
			text.NewCol(5, line.Description, props.Text{Size: 9}),
			text.NewCol(3, line.Reference, props.Text{Size: 8}),
			text.NewCol(2, line.PaidOn, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, data.Total, props.Text{Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
