package notify

import (
	"fmt"
	"strings"

	"github.com/cuemby/bellhop/pkg/dispatch"
	"github.com/cuemby/bellhop/pkg/types"
)

// Letterhead identifies the business in outgoing messages
type Letterhead struct {
	BusinessName string `yaml:"business_name"`
	Address      string `yaml:"address"`
	Phone        string `yaml:"phone"`
	ReplyTo      string `yaml:"reply_to"`
}

// Attribute keys read from records
const (
	AttrEmail = "customer_email"
	AttrName  = "customer_name"
	AttrTime  = "time"
)

var reasonText = map[types.RejectReason]string{
	types.RejectTooBusy:             "we are too busy to take new orders right now",
	types.RejectClosed:              "we are currently closed",
	types.RejectOutOfStock:          "some items are out of stock",
	types.RejectDeliveryUnavailable: "delivery is not available for your address",
	types.RejectTechnical:           "of a technical problem",
	types.RejectAddressIssue:        "we could not verify your address",
	types.RejectOther:               "of an unexpected issue",
}

// Composer builds status emails for records
type Composer struct {
	Letterhead Letterhead
}

// Compose returns the payload announcing that record reached its current
// status, or nil when the record has no recipient address.
func (c *Composer) Compose(record *types.Record) *dispatch.Payload {
	recipient := strings.TrimSpace(record.Attr(AttrEmail))
	if recipient == "" {
		return nil
	}

	name := record.Attr(AttrName)
	if name == "" {
		name = "there"
	}
	business := c.Letterhead.BusinessName
	if business == "" {
		business = "our restaurant"
	}

	var subject, line string
	switch {
	case record.Kind == types.KindOrder && record.Status == types.StatusConfirmed:
		subject = fmt.Sprintf("Your order %s is confirmed", record.ID)
		line = fmt.Sprintf("Good news: %s has confirmed your order and is getting it ready.", business)
	case record.Kind == types.KindOrder && record.Status == types.StatusRejected:
		subject = fmt.Sprintf("Your order %s could not be accepted", record.ID)
		reason, ok := reasonText[record.RejectReason]
		if !ok {
			reason = reasonText[types.RejectOther]
		}
		line = fmt.Sprintf("Unfortunately %s could not accept your order because %s.", business, reason)
		if record.RejectNote != "" {
			line += "\n\n" + record.RejectNote
		}
	case record.Kind == types.KindReservation && record.Status == types.StatusCancelled:
		subject = "Your reservation has been cancelled"
		line = fmt.Sprintf("Your reservation at %s", business)
		if t := record.Attr(AttrTime); t != "" {
			line += " for " + t
		}
		line += " has been cancelled."
	default:
		subject = fmt.Sprintf("Update on %s %s", record.Kind, record.ID)
		line = fmt.Sprintf("The status of your %s is now %s.", record.Kind, record.Status)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s,\n\n%s\n", name, line)
	body.WriteString(c.signature())

	fields := map[string]string{
		"tenant_id": record.TenantID,
		"record_id": record.ID,
		"kind":      string(record.Kind),
		"status":    string(record.Status),
	}
	if record.RejectReason != "" {
		fields["reason"] = string(record.RejectReason)
	}
	if c.Letterhead.ReplyTo != "" {
		fields["reply_to"] = c.Letterhead.ReplyTo
	}

	return &dispatch.Payload{
		Recipient: recipient,
		Subject:   subject,
		Body:      body.String(),
		Fields:    fields,
	}
}

func (c *Composer) signature() string {
	lh := c.Letterhead
	if lh.BusinessName == "" {
		return ""
	}
	parts := []string{"\n--", lh.BusinessName}
	if lh.Address != "" {
		parts = append(parts, lh.Address)
	}
	if lh.Phone != "" {
		parts = append(parts, lh.Phone)
	}
	return strings.Join(parts, "\n") + "\n"
}
