package ecpay

import (
	"strings"

	"github.com/baharkarakas/paygate/internal/models"
)

var shipmentCodes = map[string]models.ShipmentStatus{
	"300":  models.ShipCreated,
	"2030": models.ShipShipping,
	"2063": models.ShipArrived,
	"2067": models.ShipPickedUp,
	"2074": models.ShipReturned,
	"9000": models.ShipFailed,
}

// ShipmentStatusFor maps a logistics status code; unknown codes are pending.
func ShipmentStatusFor(code string) models.ShipmentStatus {
	if s, ok := shipmentCodes[code]; ok {
		return s
	}
	return models.ShipPending
}

// createAccepted holds the RtnCodes that mean a create-shipment call was
// accepted: 300 is the B2C code, 2001 and 2003 are the C2C ones.
var createAccepted = map[string]bool{"300": true, "2001": true, "2003": true}

func CreateAccepted(code string) bool { return createAccepted[code] }

// PaymentSucceeded reports whether a payment callback's RtnCode means paid.
func PaymentSucceeded(code string) bool { return code == "1" }

// ProbeValid classifies a QueryTradeInfo reply for a trade that does not
// exist. "Not found" still proves the signature was accepted.
func ProbeValid(body string) (bool, string) {
	switch {
	case strings.Contains(body, "CheckMacValue") && strings.Contains(body, "錯誤"):
		return false, "Credentials invalid: CheckMacValue verification failed"
	case strings.Contains(body, "Succeeded"), strings.Contains(body, "查無"), strings.Contains(body, "TradeStatus"):
		return true, "Credentials valid: processor accepted the signed query"
	}
	return false, "Processor response: " + Truncate(body, 200)
}
