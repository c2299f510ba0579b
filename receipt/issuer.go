// Package receipt produces verification artifacts bound to an inspection
// request snapshot. Generation and persistence are deliberately decoupled so
// callers can render a preview without committing anything.
package receipt

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stazama/request"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Summary is the structured receipt payload embedded in the document and
// stored alongside the request.
type Summary struct {
	TransactionID    string  `json:"transaction_id"`
	Date             string  `json:"date"`
	Time             string  `json:"time"`
	Amount           float64 `json:"amount"`
	PaymentMethod    string  `json:"payment_method"`
	VerificationCode string  `json:"verification_code"`
	CustomerName     string  `json:"customer_name"`
	ServiceDetails   string  `json:"service_details"`
}

// Data bundles everything a caller needs to render or persist a receipt.
type Data struct {
	Number   string
	Code     string
	IssuedAt time.Time
	Summary  Summary
	Document string
}

// Issuer generates verification codes and receipt documents. The random
// source and clock are injectable for tests.
type Issuer struct {
	now      func() time.Time
	randRead func(b []byte) (int, error)
}

// NewIssuer builds an issuer on the system clock and crypto/rand.
func NewIssuer() *Issuer {
	return &Issuer{
		now:      time.Now,
		randRead: rand.Read,
	}
}

// WithClock overrides the clock, returning the issuer for chaining.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Now exposes the issuer's clock so callers minting receipt numbers share it.
func (i *Issuer) Now() time.Time {
	return i.now()
}

// GenerateVerificationCode mints an 8-character uppercase alphanumeric token.
// Uniqueness is probabilistic; collisions are accepted as negligible. Bytes
// at or above the largest multiple of the alphabet size are discarded so
// every character is equally likely.
func (i *Issuer) GenerateVerificationCode() (string, error) {
	const codeLen = 8
	limit := byte(256 - 256%len(codeAlphabet))

	var b strings.Builder
	buf := make([]byte, 2*codeLen)
	for b.Len() < codeLen {
		if _, err := i.randRead(buf); err != nil {
			return "", fmt.Errorf("receipt: read random: %w", err)
		}
		for _, c := range buf {
			if c >= limit {
				continue
			}
			b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
			if b.Len() == codeLen {
				break
			}
		}
	}
	return b.String(), nil
}

// GenerateReceiptData produces the rendered document and structured summary
// for one request snapshot. It is idempotent with respect to an existing
// verification code: a code already carried by the request is reused, never
// re-minted. The transaction id prefers the public tracking id.
func (i *Issuer) GenerateReceiptData(req request.InspectionRequest) (Data, error) {
	code := ""
	if req.ReceiptVerificationCode != nil && *req.ReceiptVerificationCode != "" {
		code = *req.ReceiptVerificationCode
	} else {
		minted, err := i.GenerateVerificationCode()
		if err != nil {
			return Data{}, err
		}
		code = minted
	}

	issuedAt := i.now()
	if req.ReceiptIssuedAt != nil {
		issuedAt = *req.ReceiptIssuedAt
	}

	number := ""
	if req.ReceiptNumber != nil && *req.ReceiptNumber != "" {
		number = *req.ReceiptNumber
	} else {
		number = NewReceiptNumber(issuedAt)
	}

	transactionID := req.TrackingID
	if transactionID == "" {
		transactionID = req.ID
	}

	method := "unspecified"
	if req.PaymentMethod != nil && *req.PaymentMethod != "" {
		method = *req.PaymentMethod
	}

	summary := Summary{
		TransactionID:    transactionID,
		Date:             issuedAt.Format("2006-01-02"),
		Time:             issuedAt.Format("15:04:05"),
		Amount:           req.ServiceFee,
		PaymentMethod:    method,
		VerificationCode: code,
		CustomerName:     req.CustomerName,
		ServiceDetails:   fmt.Sprintf("%s inspection: %s", req.ServiceTier, req.ProductDetails),
	}

	return Data{
		Number:   number,
		Code:     code,
		IssuedAt: issuedAt,
		Summary:  summary,
		Document: renderDocument(number, summary),
	}, nil
}

// NewReceiptNumber mints a receipt number of the form REC-<epoch millis>.
func NewReceiptNumber(at time.Time) string {
	return fmt.Sprintf("REC-%d", at.UnixMilli())
}

// MarshalSummary encodes the summary for storage in the receipt_data column.
func MarshalSummary(s Summary) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("receipt: marshal summary: %w", err)
	}
	return b, nil
}

func renderDocument(number string, s Summary) string {
	var b strings.Builder
	b.WriteString("STAZAMA INSPECTION RECEIPT\n")
	b.WriteString(strings.Repeat("-", 34) + "\n")
	fmt.Fprintf(&b, "Receipt No:    %s\n", number)
	fmt.Fprintf(&b, "Transaction:   %s\n", s.TransactionID)
	fmt.Fprintf(&b, "Date:          %s %s\n", s.Date, s.Time)
	fmt.Fprintf(&b, "Customer:      %s\n", s.CustomerName)
	fmt.Fprintf(&b, "Service:       %s\n", s.ServiceDetails)
	fmt.Fprintf(&b, "Amount:        %.2f\n", s.Amount)
	fmt.Fprintf(&b, "Paid via:      %s\n", s.PaymentMethod)
	b.WriteString(strings.Repeat("-", 34) + "\n")
	fmt.Fprintf(&b, "Verification:  %s\n", s.VerificationCode)
	return b.String()
}
