package bot

import "strings"

// Callback actions. Data is "<action>" or "<action>:<value>" and must fit
// Telegram's 64 byte limit.
const (
	cbMenu         = "menu"
	cbBalance      = "bal"
	cbAccount      = "acc"
	cbRecharge     = "rch"
	cbManual       = "rcm"
	cbAutomatic    = "rca"
	cbPaid         = "paid"
	cbSupport      = "sup"
	cbHowTo        = "how"
	cbCountries    = "buy"
	cbCountry      = "cty"
	cbBuyNow       = "bn"
	cbApprove      = "rva"
	cbDecline      = "rvd"
	cbStockCountry = "stk"
	cbJoined       = "joined"
	cbCancel       = "cancel"
)

const maxCallbackData = 64

// callbackData builds button data. ok is false when it would not fit.
func callbackData(action, value string) (string, bool) {
	data := action
	if value != "" {
		data += ":" + value
	}
	return data, len(data) <= maxCallbackData
}

func parseCallback(data string) (action, value string) {
	action, value, _ = strings.Cut(data, ":")
	return action, value
}
