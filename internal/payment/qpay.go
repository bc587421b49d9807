package payment

import (
	"fmt"
	"net/url"
	"strconv"

	"salonbook/internal/models"

	"github.com/skip2/go-qrcode"
)

// QPayPayload is the text encoded into the invoice QR.
func QPayPayload(merchant string, b *models.Booking) string {
	q := url.Values{}
	q.Set("merchant", merchant)
	q.Set("invoice", b.ID)
	q.Set("amount", strconv.FormatInt(b.Price, 10))
	q.Set("salon", b.SalonID)
	return "qpay://invoice?" + q.Encode()
}

// QPayInvoice renders a PNG QR code the customer scans to pay out of band.
func QPayInvoice(merchant string, b *models.Booking) ([]byte, error) {
	png, err := qrcode.Encode(QPayPayload(merchant, b), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode qpay invoice: %w", err)
	}
	return png, nil
}
