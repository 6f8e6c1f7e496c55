package ecpay

import (
	"net/url"
	"strings"
)

// Reply is the normalized form of a key=value processor response.
type Reply struct {
	// Ack is the leading "1|"/"0|" marker when the body carried one.
	Ack     string
	Message string
	Fields  map[string]string

	RtnCode         string
	RtnMsg          string
	MerchantTradeNo string
	LogisticsID     string
	LogisticsStatus string
	PaymentNo       string
	ValidationNo    string
}

// Snapshot returns the fields as a jsonb-friendly map.
func (r Reply) Snapshot() map[string]any {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	if r.Message != "" {
		out["_message"] = r.Message
	}
	return out
}

// ParseReply splits on & then on the first =, URL-decodes values and strips
// the "N|" prefix some replies glue onto the first key. A bare "0|reason"
// body ends up in Message.
func ParseReply(body string) Reply {
	r := Reply{Fields: map[string]string{}}
	body = strings.TrimSpace(body)

	for _, seg := range strings.Split(body, "&") {
		if seg == "" {
			continue
		}
		k, v, hasEq := strings.Cut(seg, "=")
		if i := strings.IndexByte(k, '|'); i >= 0 {
			if r.Ack == "" {
				r.Ack = k[:i]
			}
			k = k[i+1:]
		}
		if !hasEq {
			if r.Message == "" {
				r.Message = decode(k)
			}
			continue
		}
		r.Fields[k] = decode(v)
	}

	r.RtnCode = r.Fields["RtnCode"]
	r.RtnMsg = r.Fields["RtnMsg"]
	r.MerchantTradeNo = r.Fields["MerchantTradeNo"]
	r.LogisticsID = r.Fields["AllPayLogisticsID"]
	r.LogisticsStatus = r.Fields["LogisticsStatus"]
	r.PaymentNo = r.Fields["CVSPaymentNo"]
	r.ValidationNo = r.Fields["CVSValidationNo"]
	if r.RtnMsg == "" {
		r.RtnMsg = r.Message
	}
	return r
}

func decode(s string) string {
	if d, err := url.QueryUnescape(s); err == nil {
		return d
	}
	return s
}
