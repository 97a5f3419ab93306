package pdf

import (
	"context"
	"io"
)

// ReceiptLine is one settled charge on the receipt.
type ReceiptLine struct {
	Description string
	Reference   string
	PaidOn      string
	Amount      string
}

type ReceiptData struct {
	Reference    string
	StudentEmail string
	CourseTitle  string
	CohortName   string
	Plan         string
	DatePaid     string
	Total        string
	Lines        []ReceiptLine
}

type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error)
}
