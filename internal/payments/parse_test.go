package payments

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"number-shop/internal/money"
)

func TestParsePayment(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   Payment
		wantOK bool
	}{
		{
			name:   "plain text mail",
			body:   "You received ₹250.00 from Rahul Kumar at 10:42 AM.\r\nTransaction ID FMP12345XYZ",
			want:   Payment{TxnID: "FMP12345XYZ", Sender: "Rahul Kumar", Amount: 25000},
			wantOK: true,
		},
		{
			name:   "rs prefix and colon",
			body:   "Rs. 1,200 credited from Asha at 9 PM. transaction id: 998877",
			want:   Payment{TxnID: "998877", Sender: "Asha", Amount: 120000},
			wantOK: true,
		},
		{
			name:   "no sender or amount",
			body:   "transaction id ABC1",
			want:   Payment{TxnID: "ABC1", Sender: "Unknown"},
			wantOK: true,
		},
		{
			name:   "no transaction id",
			body:   "Your statement is ready.",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePayment(tt.body)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestHTMLToText(t *testing.T) {
	doc := `<html><head><style>p{color:red}</style></head>
<body><p>You received <b>₹99</b></p><script>var x = 1;</script><div>Transaction ID T1</div></body></html>`

	text := HTMLToText(strings.NewReader(doc))
	assert.Equal(t, "You received ₹99 Transaction ID T1", text)

	p, ok := ParsePayment(text)
	require.True(t, ok)
	assert.Equal(t, "T1", p.TxnID)
	assert.Equal(t, money.Amount(9900), p.Amount)
}

func TestMessageTextPrefersPlain(t *testing.T) {
	raw := "From: FamPay <no-reply@famapp.in>\r\n" +
		"Subject: Payment received\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>ignored</p>\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Transaction ID PLAIN1\r\n" +
		"--b1--\r\n"

	text, err := messageText(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, text, "PLAIN1")
}

func TestMessageTextFallsBackToHTML(t *testing.T) {
	raw := "From: FamPay <no-reply@famapp.in>\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<div>Received from Ravi at noon</div><div>Transaction ID H2</div>\r\n"

	text, err := messageText(strings.NewReader(raw))
	require.NoError(t, err)

	p, ok := ParsePayment(text)
	require.True(t, ok)
	assert.Equal(t, "H2", p.TxnID)
	assert.Equal(t, "Ravi", p.Sender)
}
