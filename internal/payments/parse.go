// Package payments checks a mailbox for payment confirmation mails so that
// recharge requests can be verified without an admin.
package payments

import (
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"number-shop/internal/money"
)

// Payment is what a confirmation mail tells us about a transfer.
type Payment struct {
	TxnID  string
	Sender string
	Amount money.Amount
}

var (
	txnPattern    = regexp.MustCompile(`(?i)transaction\s+id[:\s#]*([A-Za-z0-9]+)`)
	senderPattern = regexp.MustCompile(`\bfrom ([A-Za-z][A-Za-z .]*?) at\b`)
	amountPattern = regexp.MustCompile(`(?i)(?:₹|\brs\.?|\binr)\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)
)

// ParsePayment extracts the transaction id, sender and amount from a mail
// body. ok is false when the body carries no transaction id.
func ParsePayment(body string) (Payment, bool) {
	text := strings.Join(strings.Fields(body), " ")

	m := txnPattern.FindStringSubmatch(text)
	if m == nil {
		return Payment{}, false
	}

	p := Payment{TxnID: m[1], Sender: "Unknown"}
	if s := senderPattern.FindStringSubmatch(text); s != nil {
		p.Sender = strings.TrimSpace(s[1])
	}
	if a := amountPattern.FindStringSubmatch(text); a != nil {
		if amount, err := money.Parse(a[1]); err == nil {
			p.Amount = amount
		}
	}
	return p, true
}

// HTMLToText flattens an HTML mail body to whitespace separated text.
func HTMLToText(r io.Reader) string {
	z := html.NewTokenizer(r)
	var parts []string
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(parts, " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if t := strings.TrimSpace(string(z.Text())); t != "" {
				parts = append(parts, t)
			}
		}
	}
}
