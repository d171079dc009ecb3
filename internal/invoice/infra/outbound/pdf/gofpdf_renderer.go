package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

type rgb [3]int

// Renderer maqueta una factura A4 sencilla: cabecera, cliente, dirección, líneas y totales.
type Renderer struct {
	Company string
	primary rgb
	text    rgb
	gray    rgb
}

func NewRenderer(company string) *Renderer {
	if company == "" {
		company = "E-Commerce Co."
	}
	return &Renderer{
		Company: company,
		primary: rgb{147, 51, 234},
		text:    rgb{31, 41, 55},
		gray:    rgb{243, 244, 246},
	}
}

// InvoiceNumber es el número legible de la factura: INV-XXXXXXXX-XXXXXXXXXXXX.
func InvoiceNumber(id uuid.UUID) string {
	s := id.String()
	return "INV-" + strings.ToUpper(s[:8]+"-"+s[len(s)-12:])
}

func (r *Renderer) Render(order events.OrderPaidData, invoiceID uuid.UUID) ([]byte, error) {
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetMargins(15, 15, 15)
	doc.AddPage()

	r.header(doc, invoiceID, order.PaidAt)
	r.customer(doc, order)
	r.lines(doc, order.Items)
	r.totals(doc, order)
	r.footer(doc)

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Renderer) color(doc *gofpdf.Fpdf, c rgb) {
	doc.SetTextColor(c[0], c[1], c[2])
}

func (r *Renderer) header(doc *gofpdf.Fpdf, invoiceID uuid.UUID, date time.Time) {
	if date.IsZero() {
		date = time.Now().UTC()
	}
	doc.SetFont("Arial", "B", 24)
	r.color(doc, r.primary)
	doc.Cell(0, 10, r.Company)

	doc.SetFont("Arial", "", 9)
	r.color(doc, r.text)
	doc.SetXY(120, 25)
	doc.Cell(20, 5, "Invoice No:")
	doc.Cell(0, 5, InvoiceNumber(invoiceID))
	doc.SetXY(120, 30)
	doc.Cell(20, 5, "Date:")
	doc.Cell(0, 5, date.Format("Jan 02, 2006"))
}

func (r *Renderer) customer(doc *gofpdf.Fpdf, order events.OrderPaidData) {
	doc.SetFillColor(r.gray[0], r.gray[1], r.gray[2])
	doc.Rect(15, 45, 180, 40, "F")

	doc.SetXY(20, 50)
	doc.SetFont("Arial", "B", 10)
	r.color(doc, r.primary)
	doc.Cell(0, 5, "Bill To")

	doc.SetFont("Arial", "", 9)
	r.color(doc, r.text)
	addr := order.ShippingAddress
	rows := []string{
		order.UserName,
		order.UserEmail,
		addr.Street,
		strings.TrimSpace(fmt.Sprintf("%s, %s %s", addr.City, addr.State, addr.ZipCode)),
		addr.Country,
	}
	y := 57.0
	for _, row := range rows {
		doc.SetXY(20, y)
		doc.Cell(0, 5, row)
		y += 5
	}
}

func (r *Renderer) lines(doc *gofpdf.Fpdf, items []events.OrderItem) {
	doc.SetXY(15, 95)
	doc.SetFillColor(r.primary[0], r.primary[1], r.primary[2])
	doc.SetTextColor(255, 255, 255)
	doc.SetFont("Arial", "B", 10)
	doc.CellFormat(80, 10, "Description", "0", 0, "L", true, 0, "")
	doc.CellFormat(30, 10, "Qty", "0", 0, "C", true, 0, "")
	doc.CellFormat(40, 10, "Price", "0", 0, "C", true, 0, "")
	doc.CellFormat(30, 10, "Amount", "0", 1, "R", true, 0, "")

	r.color(doc, r.text)
	doc.SetFont("Arial", "", 10)
	for i, it := range items {
		if i%2 == 0 {
			doc.SetFillColor(r.gray[0], r.gray[1], r.gray[2])
		} else {
			doc.SetFillColor(255, 255, 255)
		}
		name := it.Name
		if name == "" {
			name = it.ProductID
		}
		lineTotal := it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		doc.CellFormat(80, 10, name, "0", 0, "L", true, 0, "")
		doc.CellFormat(30, 10, fmt.Sprintf("%d", it.Quantity), "0", 0, "C", true, 0, "")
		doc.CellFormat(40, 10, money(it.Price), "0", 0, "C", true, 0, "")
		doc.CellFormat(30, 10, money(lineTotal), "0", 1, "R", true, 0, "")
	}
}

func (r *Renderer) totals(doc *gofpdf.Fpdf, order events.OrderPaidData) {
	doc.Ln(2)
	const x, label = 140.0, 35.0

	doc.SetFont("Arial", "", 10)
	r.color(doc, r.text)
	for _, row := range [][2]string{{"Subtotal:", money(order.Subtotal)}, {"Tax:", money(order.Tax)}} {
		doc.SetX(x)
		doc.CellFormat(label, 8, row[0], "", 0, "L", false, 0, "")
		doc.CellFormat(0, 8, row[1], "", 1, "R", false, 0, "")
	}

	doc.SetFont("Arial", "B", 10)
	r.color(doc, r.primary)
	doc.SetX(x)
	doc.CellFormat(label, 8, "Total Amount:", "", 0, "L", false, 0, "")
	doc.CellFormat(0, 8, money(order.TotalAmount), "", 1, "R", false, 0, "")
}

func (r *Renderer) footer(doc *gofpdf.Fpdf) {
	doc.SetAutoPageBreak(false, 0)
	doc.SetY(-25)
	doc.SetDrawColor(r.gray[0], r.gray[1], r.gray[2])
	doc.Line(15, doc.GetY(), 195, doc.GetY())
	doc.Ln(2)
	doc.SetFont("Arial", "I", 8)
	doc.SetTextColor(128, 128, 128)
	doc.CellFormat(0, 5, "Thank you for your business!", "", 1, "C", false, 0, "")
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
