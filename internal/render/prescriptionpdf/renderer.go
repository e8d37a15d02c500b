// Package prescriptionpdf lays out a prescription as a single flowing PDF.
// Rendering is a pure function of its inputs and the injected clock; where the
// bytes end up (download or hosted artifact) is the caller's concern.
package prescriptionpdf

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/domain/patient"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
	"github.com/medicare-plus/frontdesk/internal/observability/metrics"
)

const (
	ContentType = "application/pdf"

	DateLayout      = "01/02/2006"
	TimestampLayout = "01/02/2006, 15:04:05"

	title     = "Medical Prescription"
	signature = "Doctor's Signature: _________________"
)

// page geometry in points on a Letter sheet (612x792)
const (
	frameX, frameY = 50.0, 50.0
	frameW, frameH = 500.0, 700.0
	leftMargin     = 60.0
	topMargin      = 60.0
	rightMargin    = 612.0 - frameX - frameW + 10
	bottomMargin   = 792.0 - frameY - frameH + 10
	lineHeight     = 16.0
)

// Document is everything one render needs. Patient is the record as loaded at
// render time, not a snapshot.
type Document struct {
	Prescription *prescription.Prescription
	Patient      *patient.Patient
}

// Renderer produces prescription PDFs
type Renderer struct {
	now      func() time.Time
	metrics  *metrics.Metrics
	compress bool
}

// Option configures a Renderer
type Option func(*Renderer)

// WithClock sets the clock used for the "Generated on" footer
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// NewRenderer creates a renderer. m may be nil.
func NewRenderer(m *metrics.Metrics, opts ...Option) *Renderer {
	r := &Renderer{now: time.Now, metrics: m, compress: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Filename is the download name for a prescription
func Filename(prescriptionID string) string {
	return "prescription_" + prescriptionID + ".pdf"
}

// Render lays out the document and returns the PDF bytes. Output is identical
// for identical input as long as the clock returns the same instant.
func (r *Renderer) Render(doc Document) ([]byte, error) {
	if doc.Prescription == nil || doc.Patient == nil {
		return nil, apperr.Validation("prescription and patient are required to render")
	}
	start := time.Now()
	p := doc.Prescription
	generated := r.now()

	stamp := p.CreatedAt
	if stamp.IsZero() {
		stamp = generated
	}

	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetCreationDate(stamp.UTC())
	pdf.SetModificationDate(stamp.UTC())
	pdf.SetCatalogSort(true)
	pdf.SetCompression(r.compress)
	pdf.SetTitle(title, false)
	pdf.SetMargins(leftMargin, topMargin, rightMargin)
	pdf.SetAutoPageBreak(true, bottomMargin)
	pdf.SetHeaderFunc(func() {
		pdf.SetDrawColor(0, 0, 0)
		pdf.SetLineWidth(1)
		pdf.Rect(frameX, frameY, frameW, frameH, "D")
	})
	pdf.AddPage()

	w := &writer{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}

	w.title(title)
	w.gap(1)

	w.heading("Doctor Information:")
	w.line("Name: Dr. " + p.DoctorName)
	w.line("Specialization: " + p.DoctorSpecialization)
	w.gap(1)

	w.heading("Patient Information:")
	w.line("Name: " + doc.Patient.Name)
	w.line("Age: " + strconv.Itoa(doc.Patient.Age))
	w.line("Gender: " + string(doc.Patient.Gender))
	w.gap(1)

	w.heading("Date:")
	w.line(p.CreatedAt.Format(DateLayout))
	w.gap(1)

	w.heading("Symptoms:")
	for _, s := range p.Symptoms {
		w.bullet(s)
	}
	w.gap(1)

	w.heading("Prescribed Medicines:")
	for _, m := range p.Medicines {
		w.bullet(fmt.Sprintf("%s - %s (%s)", m.Name, m.Dosage, m.Frequency))
	}
	w.gap(1)

	if p.Notes != "" {
		w.heading("Additional Notes:")
		w.line(p.Notes)
		w.gap(1)
	}

	if len(p.HoldMedicines) > 0 {
		w.heading("Hold Medicines:")
		for _, m := range p.HoldMedicines {
			w.bullet(fmt.Sprintf("%s - %s (Reason: %s)", m.Name, m.Dosage, m.Reason))
		}
		w.gap(1)
	}

	w.gap(2)
	w.aligned(signature, 12, "R")
	w.gap(1)
	w.aligned("Generated on: "+generated.Format(TimestampLayout), 10, "C")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	r.metrics.RenderObserved(time.Since(start))
	return buf.Bytes(), nil
}

type writer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (w *writer) title(text string) {
	w.pdf.SetFont("Helvetica", "B", 24)
	w.pdf.SetTextColor(0, 0, 255)
	w.pdf.CellFormat(0, 30, w.tr(text), "", 1, "C", false, 0, "")
}

func (w *writer) heading(text string) {
	w.pdf.SetFont("Helvetica", "BU", 14)
	w.pdf.SetTextColor(255, 0, 0)
	w.pdf.MultiCell(0, 18, w.tr(text), "", "L", false)
}

func (w *writer) line(text string) {
	w.pdf.SetFont("Helvetica", "", 12)
	w.pdf.SetTextColor(0, 0, 0)
	w.pdf.MultiCell(0, lineHeight, w.tr(text), "", "L", false)
}

func (w *writer) bullet(text string) {
	w.line("• " + text)
}

func (w *writer) aligned(text string, size float64, align string) {
	w.pdf.SetFont("Helvetica", "", size)
	w.pdf.SetTextColor(0, 0, 0)
	w.pdf.CellFormat(0, lineHeight, w.tr(text), "", 1, align, false, 0, "")
}

func (w *writer) gap(lines float64) {
	w.pdf.Ln(lineHeight * lines)
}
