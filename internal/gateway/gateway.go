// Package gateway builds the redirect handshake for a PayU-style hosted
// payment page. Field names and hash ordering follow the gateway contract and
// must not be changed independently of it.
package gateway

import (
	"github.com/robertarktes/payment-orders/internal/domain"
	"github.com/robertarktes/payment-orders/internal/signature"
)

// Buyer is the contact subset of the authenticated identity that the gateway
// displays on its payment page.
type Buyer struct {
	Name  string
	Email string
	Phone string
}

// RedirectPayload is what the browser posts to the gateway. Amount is fixed
// 2-decimal formatted; Hash covers the ordered field set under the merchant
// salt.
type RedirectPayload struct {
	GatewayURL string            `json:"gateway_url"`
	Fields     map[string]string `json:"payload"`
}

type Client struct {
	url         string
	merchantKey string
	signer      *signature.Service
}

func NewClient(url, merchantKey string, signer *signature.Service) *Client {
	return &Client{url: url, merchantKey: merchantKey, signer: signer}
}

// BuildRedirect signs the outbound handshake for an order. The hash covers
// key|txnid|amount|productinfo|firstname|email in that exact order.
func (c *Client) BuildRedirect(order *domain.Order, buyer Buyer, description, successURL, failureURL string) RedirectPayload {
	amount := order.Amount.StringFixed(2)
	hash := c.signer.Sign([]string{
		c.merchantKey,
		order.Ref,
		amount,
		description,
		buyer.Name,
		buyer.Email,
	})
	return RedirectPayload{
		GatewayURL: c.url,
		Fields: map[string]string{
			"key":         c.merchantKey,
			"txnid":       order.Ref,
			"amount":      amount,
			"productinfo": description,
			"firstname":   buyer.Name,
			"email":       buyer.Email,
			"phone":       buyer.Phone,
			"surl":        successURL,
			"furl":        failureURL,
			"hash":        hash,
		},
	}
}

// Callback is what the gateway reports back via redirect callback or webhook.
type Callback struct {
	OrderRef    string
	Status      string
	Amount      string
	ProductInfo string
	FirstName   string
	Email       string
	PaymentID   string
	Reason      string
	Hash        string
}

// VerifyCallback checks the reverse hash. The reverse ordering mirrors the
// outbound one with the reported status prepended.
func (c *Client) VerifyCallback(cb Callback) bool {
	return c.signer.Verify([]string{
		cb.Status,
		cb.Email,
		cb.FirstName,
		cb.ProductInfo,
		cb.Amount,
		cb.OrderRef,
		c.merchantKey,
	}, cb.Hash)
}

// SignCallback produces the reverse hash for a callback. Used by tests and by
// the sandbox gateway stub; the production hash comes from the gateway itself.
func (c *Client) SignCallback(cb Callback) string {
	return c.signer.Sign([]string{
		cb.Status,
		cb.Email,
		cb.FirstName,
		cb.ProductInfo,
		cb.Amount,
		cb.OrderRef,
		c.merchantKey,
	})
}
